package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/outbox"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/providers"
	"github.com/rs/zerolog"
)

// RefundService orchestrates refunds against captured payments. Provider
// declines are recorded as FAILED refunds, not returned as errors.
type RefundService struct {
	refundRepo  refund.Repository
	paymentRepo payment.Repository
	outboxRepo  outbox.Repository
	txManager   TransactionManager
	locker      Locker
	providers   ProviderResolver
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewRefundService(
	refundRepo refund.Repository,
	paymentRepo payment.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	locker Locker,
	resolver ProviderResolver,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *RefundService {
	return &RefundService{
		refundRepo:  refundRepo,
		paymentRepo: paymentRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
		locker:      locker,
		providers:   resolver,
		metrics:     metrics,
		logger:      observability.Component(logger, "refund_service"),
	}
}

// ProcessBookingRefund records a PENDING refund for the payment behind a
// booking. It does not call the provider; see ProcessRefund.
//
// A request carrying a RequestID is recorded at most once: a redelivery
// returns the refund created the first time, whatever its status now.
func (s *RefundService) ProcessBookingRefund(ctx context.Context, evt RefundRequestedEvent) (*refund.Refund, error) {
	if evt.RequestID != "" {
		existing, err := s.refundRepo.GetByRequestID(ctx, evt.RequestID)
		switch {
		case err == nil:
			s.logger.Info().
				Str("request_id", evt.RequestID).
				Str("refund_id", existing.ID.String()).
				Str("status", string(existing.Status)).
				Msg("Refund request already recorded")
			return existing, nil
		case !errors.Is(err, domainErrors.ErrRefundNotFound):
			return nil, fmt.Errorf("look up refund request: %w", err)
		}
	}

	r, err := s.recordRefund(ctx, evt)
	if err != nil && evt.RequestID != "" &&
		(errors.Is(err, domainErrors.ErrDuplicateRefundRequest) || errors.Is(err, domainErrors.ErrRefundAlreadyPending)) {
		// A concurrent delivery of the same request won the insert.
		if existing, lookupErr := s.refundRepo.GetByRequestID(ctx, evt.RequestID); lookupErr == nil {
			return existing, nil
		}
	}
	return r, err
}

func (s *RefundService) recordRefund(ctx context.Context, evt RefundRequestedEvent) (*refund.Refund, error) {
	p, err := s.resolvePayment(ctx, evt)
	if err != nil {
		return nil, err
	}
	if !p.IsRefundable() {
		return nil, domainErrors.NewDomainError("payment_not_refundable",
			fmt.Sprintf("payment %s is %s", p.ID, p.Status), domainErrors.ErrPaymentNotRefundable)
	}

	amount := evt.Amount
	if amount.Currency == "" {
		amount.Currency = p.Amount.Currency
	}
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if amount.Currency != p.Amount.Currency {
		return nil, domainErrors.NewDomainError("currency_mismatch",
			fmt.Sprintf("refund currency %s does not match payment currency %s", amount.Currency, p.Amount.Currency),
			domainErrors.ErrInvalidInput)
	}

	var r *refund.Refund
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		locked, err := s.paymentRepo.GetByIDForUpdate(txCtx, p.ID)
		if err != nil {
			return err
		}
		if !locked.IsRefundable() {
			return domainErrors.ErrPaymentNotRefundable
		}
		if err := s.checkRefundable(txCtx, locked, amount, uuid.Nil); err != nil {
			return err
		}

		r, err = refund.NewRefund(locked.ID, amount, evt.Reason, evt.UserID)
		if err != nil {
			return err
		}
		if evt.BookingID != uuid.Nil {
			bookingID := evt.BookingID
			r.BookingID = &bookingID
		}
		if evt.RequestID != "" {
			requestID := evt.RequestID
			r.RequestID = &requestID
		}
		if err := s.refundRepo.Create(txCtx, r); err != nil {
			return err
		}
		return s.outboxRepo.Insert(txCtx, refundEvent(outbox.EventRefundRequested, r, locked))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RefundsTotal.WithLabelValues(string(p.Provider), string(refund.StatusPending)).Inc()
	s.logger.Info().
		Str("refund_id", r.ID.String()).
		Str("payment_id", p.ID.String()).
		Str("amount", r.Amount.String()).
		Msg("Refund requested")
	return r, nil
}

// ProcessRefund calls the provider for a PENDING refund. A transient provider
// error is returned and the refund stays PENDING.
func (s *RefundService) ProcessRefund(ctx context.Context, refundID uuid.UUID) (*refund.Refund, error) {
	r, err := s.refundRepo.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status != refund.StatusPending {
		return nil, notPending(r)
	}

	release, err := s.locker.Lock(ctx, lockKey(refundID))
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, release, refundID)

	// Another worker may have finished it while we waited for the lock.
	r, err = s.refundRepo.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status != refund.StatusPending {
		return nil, notPending(r)
	}

	return s.execute(ctx, r)
}

// RetryFailedRefund moves a FAILED refund back to PENDING and calls the
// provider again. Any other status is rejected without side effects.
func (s *RefundService) RetryFailedRefund(ctx context.Context, refundID uuid.UUID) (*refund.Refund, error) {
	r, err := s.refundRepo.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status != refund.StatusFailed {
		return nil, r.Retry()
	}

	release, err := s.locker.Lock(ctx, lockKey(refundID))
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, release, refundID)

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		p, err := s.paymentRepo.GetByIDForUpdate(txCtx, r.PaymentID)
		if err != nil {
			return err
		}
		current, err := s.refundRepo.GetByID(txCtx, refundID)
		if err != nil {
			return err
		}
		if err := current.Retry(); err != nil {
			return err
		}
		if err := s.checkRefundable(txCtx, p, current.Amount, current.ID); err != nil {
			return err
		}
		if err := s.refundRepo.Update(txCtx, current); err != nil {
			return err
		}
		r = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("refund_id", r.ID.String()).Int("attempt", r.Attempts).Msg("Retrying failed refund")
	return s.execute(ctx, r)
}

func (s *RefundService) GetRefund(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	return s.refundRepo.GetByID(ctx, id)
}

func (s *RefundService) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error) {
	return s.refundRepo.ListByPaymentID(ctx, paymentID)
}

func (s *RefundService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*refund.Refund, error) {
	if userID == "" {
		return nil, domainErrors.NewValidationError("user_id", "cannot be empty")
	}
	return s.refundRepo.ListByUserID(ctx, userID, limit, offset)
}

// execute runs one provider attempt for a PENDING refund and records the
// outcome. The caller holds the refund lock.
func (s *RefundService) execute(ctx context.Context, r *refund.Refund) (*refund.Refund, error) {
	p, err := s.paymentRepo.GetByID(ctx, r.PaymentID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.Get(string(p.Provider))
	if err != nil {
		return nil, err
	}

	log := s.logger.With().
		Str("refund_id", r.ID.String()).
		Str("payment_id", p.ID.String()).
		Str("provider", string(p.Provider)).
		Logger()

	res, err := provider.RefundPayment(ctx, providers.RefundRequest{
		TransactionID:  p.ProviderIntentID,
		AmountCents:    r.Amount.ValueCents,
		Currency:       r.Amount.Currency,
		IdempotencyKey: r.IdempotencyKey(),
		Metadata: map[string]string{
			"refund_id":  r.ID.String(),
			"payment_id": p.ID.String(),
			"reason":     r.Reason,
		},
	})
	if err != nil {
		s.metrics.RefundsTotal.WithLabelValues(string(p.Provider), "error").Inc()
		log.Warn().Err(err).Msg("Refund call failed, leaving refund pending")
		return nil, err
	}

	updated := *r
	var eventType string
	if res.Success {
		if err := updated.MarkCompleted(res.ProviderRefundID); err != nil {
			return nil, err
		}
		eventType = outbox.EventRefundCompleted
	} else {
		if err := updated.MarkFailed(declineReason(res)); err != nil {
			return nil, err
		}
		eventType = outbox.EventRefundFailed
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.refundRepo.Update(txCtx, &updated); err != nil {
			return err
		}
		entry := refundEvent(eventType, &updated, p)
		if !res.Success && res.FailureCode != "" {
			entry.Payload["failure_code"] = res.FailureCode
		}
		return s.outboxRepo.Insert(txCtx, entry)
	})
	if err != nil {
		// The provider has acted; the reconciler re-drives with the same
		// idempotency key.
		log.Error().Err(err).Bool("provider_succeeded", res.Success).Msg("Failed to record refund outcome")
		return nil, err
	}

	s.metrics.RefundsTotal.WithLabelValues(string(p.Provider), string(updated.Status)).Inc()
	if res.Success {
		log.Info().Str("provider_refund_id", res.ProviderRefundID).Msg("Refund completed")
	} else {
		log.Warn().Str("failure_code", res.FailureCode).Str("reason", *updated.FailureReason).Msg("Refund declined")
	}
	return &updated, nil
}

// checkRefundable enforces one PENDING refund per payment and the remaining
// refundable amount. exclude skips the refund being retried.
func (s *RefundService) checkRefundable(ctx context.Context, p *payment.Payment, amount payment.Amount, exclude uuid.UUID) error {
	pending, err := s.refundRepo.HasPending(ctx, p.ID)
	if err != nil {
		return err
	}
	if pending {
		return domainErrors.NewDomainError("refund_already_pending",
			fmt.Sprintf("payment %s already has a pending refund", p.ID), domainErrors.ErrRefundAlreadyPending)
	}

	existing, err := s.refundRepo.ListByPaymentID(ctx, p.ID)
	if err != nil {
		return err
	}
	if remaining := refund.Outstanding(p.Amount, existing, exclude); amount.ValueCents > remaining {
		return domainErrors.NewDomainError("refund_exceeds_payment",
			fmt.Sprintf("requested %s, refundable %s", amount,
				payment.Amount{ValueCents: remaining, Currency: p.Amount.Currency}),
			domainErrors.ErrRefundExceedsPayment)
	}
	return nil
}

func (s *RefundService) resolvePayment(ctx context.Context, evt RefundRequestedEvent) (*payment.Payment, error) {
	switch {
	case evt.PaymentID != "":
		if id, err := uuid.Parse(evt.PaymentID); err == nil {
			p, err := s.paymentRepo.GetByID(ctx, id)
			if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
				return p, err
			}
		}
		return s.paymentRepo.GetByProviderIntentID(ctx, evt.PaymentID)
	case evt.BookingID != uuid.Nil:
		return s.paymentRepo.GetLatestSucceededByOrderID(ctx, evt.BookingID)
	default:
		return nil, domainErrors.NewValidationError("payment_id", "payment_id or booking_id is required")
	}
}

func (s *RefundService) release(ctx context.Context, release func(context.Context) error, refundID uuid.UUID) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Str("refund_id", refundID.String()).Msg("Failed to release refund lock")
	}
}

func lockKey(refundID uuid.UUID) string {
	return "refund:" + refundID.String()
}

func notPending(r *refund.Refund) error {
	return domainErrors.NewDomainError("refund_not_pending",
		fmt.Sprintf("refund %s is %s", r.ID, r.Status), domainErrors.ErrInvalidStateTransition)
}

func declineReason(res *providers.RefundResult) string {
	if res.Message != "" {
		return res.Message
	}
	if res.FailureCode != "" {
		return res.FailureCode
	}
	return "refund declined by provider"
}

func refundEvent(eventType string, r *refund.Refund, p *payment.Payment) *outbox.Entry {
	payload := map[string]any{
		"refund_id":          r.ID.String(),
		"payment_id":         p.ID.String(),
		"order_id":           p.OrderID.String(),
		"provider":           string(p.Provider),
		"provider_intent_id": p.ProviderIntentID,
		"amount":             r.Amount.Decimal().StringFixed(2),
		"currency":           r.Amount.Currency,
		"status":             string(r.Status),
		"reason":             r.Reason,
		"attempt":            r.Attempts,
	}
	if r.BookingID != nil {
		payload["booking_id"] = r.BookingID.String()
	}
	if r.RequestID != nil {
		payload["request_id"] = *r.RequestID
	}
	if r.ProviderRefundID != nil {
		payload["provider_refund_id"] = *r.ProviderRefundID
	}
	if r.FailureReason != nil {
		payload["failure_reason"] = *r.FailureReason
	}
	return outbox.NewEntry(outbox.AggregateRefund, r.ID, eventType, payload)
}
