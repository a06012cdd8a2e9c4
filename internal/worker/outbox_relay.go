package worker

import (
	"context"
	"time"

	"github.com/hopngo/payments/internal/domain/outbox"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/service"
	"github.com/rs/zerolog"
)

// EventPublisher delivers one outbox entry to the event stream.
type EventPublisher interface {
	Publish(ctx context.Context, entry *outbox.Entry) error
}

// OutboxRelay moves committed outbox entries onto the event stream. Entries
// are claimed with SKIP LOCKED, so several relays can run side by side.
type OutboxRelay struct {
	txManager service.TransactionManager
	repo      outbox.Repository
	publisher EventPublisher
	batchSize int
	interval  time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboxRelay(
	txManager service.TransactionManager,
	repo outbox.Repository,
	publisher EventPublisher,
	batchSize int,
	interval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxRelay{
		txManager: txManager,
		repo:      repo,
		publisher: publisher,
		batchSize: batchSize,
		interval:  interval,
		metrics:   metrics,
		logger:    observability.Component(logger, "outbox_relay"),
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Int("batch_size", r.batchSize).Msg("Outbox relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were published.
// A publish failure is recorded on the entry and does not stop the batch.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.GetPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if err := r.publisher.Publish(ctx, entry); err != nil {
				r.metrics.OutboxPublishedTotal.WithLabelValues(entry.EventType, "error").Inc()
				r.logger.Error().Err(err).
					Str("outbox_id", entry.ID.String()).
					Str("event_type", entry.EventType).
					Int("retry_count", entry.RetryCount).
					Msg("Failed to publish outbox event")
				if err := r.repo.MarkFailed(txCtx, entry.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := r.repo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			r.metrics.OutboxPublishedTotal.WithLabelValues(entry.EventType, "published").Inc()
			published++
		}
		return nil
	})
	return published, err
}
