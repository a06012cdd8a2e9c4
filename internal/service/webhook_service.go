package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/webhook"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/providers"
	"github.com/rs/zerolog"
)

const reasonUnknownIntent = "unknown payment intent"

// WebhookService ingests provider callbacks. Each (provider, webhook id) is
// acted on at most once; payment changes go through PaymentService.
type WebhookService struct {
	webhookRepo webhook.Repository
	payments    *PaymentService
	txManager   TransactionManager
	providers   ProviderResolver
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewWebhookService(
	webhookRepo webhook.Repository,
	payments *PaymentService,
	txManager TransactionManager,
	resolver ProviderResolver,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		webhookRepo: webhookRepo,
		payments:    payments,
		txManager:   txManager,
		providers:   resolver,
		metrics:     metrics,
		logger:      observability.Component(logger, "webhook_service"),
	}
}

// ProcessWebhook handles one raw delivery. Validation and signature failures
// write nothing. Internal faults roll back so a redelivery starts over.
func (s *WebhookService) ProcessWebhook(ctx context.Context, providerName string, payload []byte, headers http.Header) (*WebhookResult, error) {
	start := time.Now()

	provider, err := s.providers.Get(providerName)
	if err != nil {
		s.metrics.WebhooksTotal.WithLabelValues("unknown", "unknown_provider").Inc()
		return nil, err
	}
	defer func() {
		s.metrics.WebhookProcessDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
	}()

	n, err := provider.ParseWebhook(payload)
	if err != nil {
		s.metrics.WebhooksTotal.WithLabelValues(providerName, "malformed").Inc()
		return nil, err
	}
	log := s.logger.With().
		Str("provider", providerName).
		Str("webhook_id", n.EventID).
		Str("event_type", n.EventType).
		Logger()

	// Replays short-circuit before anything else runs.
	existing, err := s.webhookRepo.GetByProviderAndWebhookID(ctx, providerName, n.EventID)
	switch {
	case err == nil:
		s.metrics.WebhooksTotal.WithLabelValues(providerName, "duplicate").Inc()
		log.Info().Str("status", string(existing.Status)).Msg("Duplicate webhook delivery")
		return duplicateResult(existing), nil
	case !errors.Is(err, domainErrors.ErrWebhookEventNotFound):
		return nil, fmt.Errorf("look up webhook event: %w", err)
	}

	if !provider.VerifyWebhook(payload, headers) {
		s.metrics.WebhooksTotal.WithLabelValues(providerName, "invalid_signature").Inc()
		log.Warn().Bool("security", true).Msg("Webhook signature verification failed")
		return nil, domainErrors.NewDomainError("invalid_signature",
			"webhook signature verification failed for "+providerName, domainErrors.ErrInvalidSignature)
	}

	event := webhook.NewEvent(providerName, n.EventID, n.EventType)
	var result *WebhookResult
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.webhookRepo.Create(txCtx, event); err != nil {
			return err
		}
		if err := event.MarkProcessing(); err != nil {
			return err
		}
		if err := s.webhookRepo.UpdateStatus(txCtx, event); err != nil {
			return err
		}

		processed, reason, err := s.dispatch(txCtx, providerName, n)
		if err != nil {
			return err
		}
		if processed {
			err = event.MarkProcessed()
		} else {
			err = event.MarkFailed(reason)
		}
		if err != nil {
			return err
		}
		if err := s.webhookRepo.UpdateStatus(txCtx, event); err != nil {
			return err
		}

		result = &WebhookResult{EventID: n.EventID, Processed: processed, Status: event.Status, Reason: reason}
		return nil
	})
	if errors.Is(err, domainErrors.ErrDuplicateWebhook) {
		// A concurrent delivery committed first.
		winner, gerr := s.webhookRepo.GetByProviderAndWebhookID(ctx, providerName, n.EventID)
		if gerr != nil {
			return nil, fmt.Errorf("re-read concurrent webhook event: %w", gerr)
		}
		s.metrics.WebhooksTotal.WithLabelValues(providerName, "duplicate").Inc()
		log.Info().Msg("Concurrent duplicate webhook delivery")
		return duplicateResult(winner), nil
	}
	if err != nil {
		s.metrics.WebhooksTotal.WithLabelValues(providerName, "error").Inc()
		log.Error().Err(err).Msg("Webhook processing failed")
		return nil, err
	}

	outcome := "processed"
	if !result.Processed {
		outcome = "failed"
		log.Warn().Str("reason", result.Reason).Str("payment_intent_id", n.IntentID).Msg("Webhook handled without effect")
	}
	s.metrics.WebhooksTotal.WithLabelValues(providerName, outcome).Inc()
	return result, nil
}

// dispatch applies the notification. It reports processed=false with a reason
// for events that were authentic but could not be applied.
func (s *WebhookService) dispatch(ctx context.Context, providerName string, n *providers.Notification) (bool, string, error) {
	var target payment.Status
	switch n.Kind {
	case webhook.KindSucceeded:
		target = payment.StatusSucceeded
	case webhook.KindFailed:
		target = payment.StatusFailed
	case webhook.KindCanceled:
		target = payment.StatusCancelled
	default:
		return true, "", nil
	}

	p, err := s.payments.FindByPaymentIntentID(ctx, n.IntentID)
	if errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return false, reasonUnknownIntent, nil
	}
	if err != nil {
		return false, "", err
	}
	if string(p.Provider) != providerName {
		return false, fmt.Sprintf("payment intent belongs to provider %s", p.Provider), nil
	}

	reason := n.Reason
	if reason == "" && target == payment.StatusFailed {
		reason = n.EventType
	}
	if _, err := s.payments.UpdatePaymentStatus(ctx, p, target, reason); err != nil {
		if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			return false, err.Error(), nil
		}
		return false, "", err
	}
	return true, "", nil
}

// Stats counts stored webhook events by status and by provider.
func (s *WebhookService) Stats(ctx context.Context) (*webhook.Stats, error) {
	byStatus, err := s.webhookRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byProvider, err := s.webhookRepo.CountByProvider(ctx)
	if err != nil {
		return nil, err
	}

	stats := &webhook.Stats{ByStatus: byStatus, ByProvider: byProvider}
	for _, n := range byStatus {
		stats.Total += n
	}
	return stats, nil
}

func duplicateResult(e *webhook.Event) *WebhookResult {
	r := &WebhookResult{
		EventID:   e.WebhookID,
		Duplicate: true,
		Processed: e.Status == webhook.StatusProcessed,
		Status:    e.Status,
	}
	if e.FailureReason != nil {
		r.Reason = *e.FailureReason
	}
	return r
}
