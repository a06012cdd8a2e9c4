package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/order"
	"github.com/hopngo/payments/internal/domain/outbox"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/providers"
	"github.com/rs/zerolog"
)

// PaymentService owns the payment lifecycle of an order. It is the only
// writer of payment rows.
type PaymentService struct {
	paymentRepo     payment.Repository
	orders          order.Reader
	outboxRepo      outbox.Repository
	txManager       TransactionManager
	providers       ProviderResolver
	defaultProvider string
	metrics         *observability.Metrics
	logger          zerolog.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	paymentRepo payment.Repository,
	orders order.Reader,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	resolver ProviderResolver,
	defaultProvider string,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		paymentRepo:     paymentRepo,
		orders:          orders,
		outboxRepo:      outboxRepo,
		txManager:       txManager,
		providers:       resolver,
		defaultProvider: defaultProvider,
		metrics:         metrics,
		logger:          observability.Component(logger, "payment_service"),
	}
}

// CreatePaymentIntent starts a payment for an order. A provider failure
// leaves no payment row behind.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (*CreatePaymentIntentResponse, error) {
	// 1. Validate the order
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.IsPaid() {
		return nil, domainErrors.NewDomainError("order_already_paid",
			fmt.Sprintf("order %s already paid", o.ID), domainErrors.ErrOrderAlreadyPaid)
	}
	if !req.Amount.Equal(o.Total) {
		return nil, domainErrors.NewDomainError("amount_mismatch",
			fmt.Sprintf("requested %s, order total is %s", req.Amount, o.Total), domainErrors.ErrAmountMismatch)
	}

	// 2. Resolve the provider
	name := req.Provider
	if name == "" {
		name = s.defaultProvider
	}
	provider, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}

	// 3. Reuse or reject an in-flight payment
	pending, err := s.paymentRepo.GetPendingByOrderID(ctx, o.ID)
	switch {
	case err == nil:
		if string(pending.Provider) == name {
			s.metrics.PaymentIntentsTotal.WithLabelValues(name, "reused").Inc()
			return &CreatePaymentIntentResponse{Payment: pending, Existing: true}, nil
		}
		return nil, domainErrors.NewDomainError("payment_in_progress",
			fmt.Sprintf("order %s has a pending %s payment", o.ID, pending.Provider), domainErrors.ErrPaymentInProgress)
	case !errors.Is(err, domainErrors.ErrPaymentNotFound):
		return nil, fmt.Errorf("load pending payment: %w", err)
	}

	// 4. Call out to the provider, keyed by the order's attempt number
	attempts, err := s.paymentRepo.CountByOrderID(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("count payment attempts: %w", err)
	}
	intent, err := provider.CreatePaymentIntent(ctx, providers.IntentRequest{
		OrderID:        o.ID.String(),
		AmountCents:    req.Amount.ValueCents,
		Currency:       req.Amount.Currency,
		IdempotencyKey: intentIdempotencyKey(o.ID, name, attempts+1),
		Metadata: map[string]string{
			"order_id": o.ID.String(),
			"user_id":  o.UserID,
		},
	})
	if err != nil {
		s.metrics.PaymentIntentsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Error().Err(err).Str("provider", name).Str("order_id", o.ID.String()).Msg("Payment intent creation failed")
		return nil, err
	}

	// 5. Persist
	p, err := payment.NewPayment(o.ID, payment.Provider(name), intent.IntentID, intent.ClientSecret, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.paymentRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.metrics.PaymentIntentsTotal.WithLabelValues(name, "created").Inc()
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("order_id", o.ID.String()).
		Str("provider", name).
		Str("provider_intent_id", p.ProviderIntentID).
		Msg("Payment intent created")

	return &CreatePaymentIntentResponse{Payment: p}, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return s.paymentRepo.GetByID(ctx, id)
}

// FindByPaymentIntentID returns errors.ErrPaymentNotFound for unknown intents.
func (s *PaymentService) FindByPaymentIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	return s.paymentRepo.GetByProviderIntentID(ctx, intentID)
}

// GetProviderByName is the non-failing lookup.
func (s *PaymentService) GetProviderByName(name string) (providers.Provider, bool) {
	return s.providers.Lookup(name)
}

// UpdatePaymentStatus moves p to newStatus and records the matching domain
// event in the same transaction. Re-applying the current terminal status
// returns the payment unchanged. p itself is not modified.
func (s *PaymentService) UpdatePaymentStatus(ctx context.Context, p *payment.Payment, newStatus payment.Status, reason string) (*payment.Payment, error) {
	updated := *p
	var (
		changed bool
		err     error
	)
	switch newStatus {
	case payment.StatusSucceeded:
		changed, err = updated.MarkSucceeded()
	case payment.StatusFailed:
		changed, err = updated.MarkFailed(reason)
	case payment.StatusCancelled:
		changed, err = updated.MarkCancelled()
	default:
		changed, err = updated.TransitionTo(newStatus)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.paymentRepo.UpdateStatus(txCtx, &updated, p.Status); err != nil {
			return err
		}
		return s.outboxRepo.Insert(txCtx, paymentEvent(&updated, reason))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentTransitionsTotal.WithLabelValues(string(updated.Provider), string(updated.Status)).Inc()
	s.logger.Info().
		Str("payment_id", updated.ID.String()).
		Str("provider", string(updated.Provider)).
		Str("from", string(p.Status)).
		Str("to", string(updated.Status)).
		Msg("Payment status updated")

	return &updated, nil
}

func paymentEvent(p *payment.Payment, reason string) *outbox.Entry {
	var eventType string
	switch p.Status {
	case payment.StatusSucceeded:
		eventType = outbox.EventPaymentSucceeded
	case payment.StatusFailed:
		eventType = outbox.EventPaymentFailed
	default:
		eventType = outbox.EventPaymentCanceled
	}

	payload := map[string]any{
		"payment_id":         p.ID.String(),
		"order_id":           p.OrderID.String(),
		"provider":           string(p.Provider),
		"provider_intent_id": p.ProviderIntentID,
		"amount":             p.Amount.Decimal().StringFixed(2),
		"currency":           p.Amount.Currency,
		"status":             string(p.Status),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return outbox.NewEntry(outbox.AggregatePayment, p.ID, eventType, payload)
}

// intentIdempotencyKey names the n-th payment attempt of an order. A retry of
// the same attempt reuses it; a new attempt after a failure gets a fresh one.
func intentIdempotencyKey(orderID uuid.UUID, provider string, n int) string {
	return fmt.Sprintf("intent:%s:%s:%d", orderID, provider, n)
}
