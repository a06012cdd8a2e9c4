package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/providers"
	"github.com/hopngo/payments/internal/service"
	"github.com/rs/zerolog"
)

type PaymentUpdater interface {
	UpdatePaymentStatus(ctx context.Context, p *payment.Payment, newStatus payment.Status, reason string) (*payment.Payment, error)
}

type RefundDriver interface {
	ProcessRefund(ctx context.Context, refundID uuid.UUID) (*refund.Refund, error)
}

type ReconcilerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Reconciler settles records whose webhook or provider call never arrived.
// Stale PENDING payments are checked against the provider and stale PENDING
// refunds are driven again.
type Reconciler struct {
	cfg         ReconcilerConfig
	paymentRepo payment.Repository
	refundRepo  refund.Repository
	payments    PaymentUpdater
	refunds     RefundDriver
	providers   service.ProviderResolver
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewReconciler(
	cfg ReconcilerConfig,
	paymentRepo payment.Repository,
	refundRepo refund.Repository,
	payments PaymentUpdater,
	refunds RefundDriver,
	resolver service.ProviderResolver,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reconciler{
		cfg:         cfg,
		paymentRepo: paymentRepo,
		refundRepo:  refundRepo,
		payments:    payments,
		refunds:     refunds,
		providers:   resolver,
		metrics:     metrics,
		logger:      observability.Component(logger, "reconciler"),
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.cfg.Interval).Dur("stale_after", r.cfg.StaleAfter).Msg("Reconciler started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Reconciliation pass failed")
		}
	}
}

// ReconcileOnce runs one pass over both tables. Per-record failures are
// logged and left for the next pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.StaleAfter)
	return errors.Join(
		r.reconcilePayments(ctx, cutoff),
		r.reconcileRefunds(ctx, cutoff),
	)
}

func (r *Reconciler) reconcilePayments(ctx context.Context, cutoff time.Time) error {
	stale, err := r.paymentRepo.ListStalePending(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, p := range stale {
		r.record("payment", r.reconcilePayment(ctx, p))
	}
	return nil
}

func (r *Reconciler) reconcilePayment(ctx context.Context, p *payment.Payment) string {
	log := r.logger.With().
		Str("payment_id", p.ID.String()).
		Str("provider", string(p.Provider)).
		Str("provider_intent_id", p.ProviderIntentID).
		Logger()

	provider, ok := r.providers.Lookup(string(p.Provider))
	if !ok {
		log.Warn().Msg("Stale payment has no registered provider")
		return "unknown_provider"
	}
	checker, ok := provider.(providers.StatusChecker)
	if !ok {
		return "unsupported"
	}

	status, err := checker.IntentStatus(ctx, p.ProviderIntentID)
	if err != nil {
		log.Warn().Err(err).Msg("Intent status lookup failed")
		return "error"
	}

	var target payment.Status
	switch status {
	case providers.IntentSucceeded:
		target = payment.StatusSucceeded
	case providers.IntentFailed:
		target = payment.StatusFailed
	case providers.IntentCanceled:
		target = payment.StatusCancelled
	default:
		return "still_pending"
	}

	if _, err := r.payments.UpdatePaymentStatus(ctx, p, target, "reconciled: provider reports "+string(status)); err != nil {
		if errors.Is(err, domainErrors.ErrConcurrentModification) || errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			// A webhook got there first.
			return "conflict"
		}
		log.Error().Err(err).Msg("Failed to apply reconciled status")
		return "error"
	}
	log.Info().Str("status", string(target)).Msg("Payment reconciled")
	return string(target)
}

func (r *Reconciler) reconcileRefunds(ctx context.Context, cutoff time.Time) error {
	stale, err := r.refundRepo.ListStalePending(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, rf := range stale {
		r.record("refund", r.reconcileRefund(ctx, rf))
	}
	return nil
}

func (r *Reconciler) reconcileRefund(ctx context.Context, rf *refund.Refund) string {
	done, err := r.refunds.ProcessRefund(ctx, rf.ID)
	switch {
	case err == nil:
		r.logger.Info().Str("refund_id", rf.ID.String()).Str("status", string(done.Status)).Msg("Refund reconciled")
		return string(done.Status)
	case errors.Is(err, domainErrors.ErrLockAcquisitionFailed):
		return "locked"
	case errors.Is(err, domainErrors.ErrInvalidStateTransition):
		return "conflict"
	default:
		r.logger.Warn().Err(err).Str("refund_id", rf.ID.String()).Msg("Refund re-drive failed")
		return "error"
	}
}

func (r *Reconciler) record(kind, result string) {
	r.metrics.ReconcilerActionsTotal.WithLabelValues(kind, result).Inc()
}
