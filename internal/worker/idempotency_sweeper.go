package worker

import (
	"context"
	"time"

	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// ExpiredDeleter removes stored HTTP idempotency responses past their expiry.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// IdempotencySweeper periodically purges expired idempotency keys.
type IdempotencySweeper struct {
	store    ExpiredDeleter
	interval time.Duration
	logger   zerolog.Logger
}

func NewIdempotencySweeper(store ExpiredDeleter, interval time.Duration, logger zerolog.Logger) *IdempotencySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IdempotencySweeper{
		store:    store,
		interval: interval,
		logger:   observability.Component(logger, "idempotency_sweeper"),
	}
}

// Run sweeps until ctx is cancelled.
func (s *IdempotencySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		s.SweepOnce(ctx)
	}
}

// SweepOnce deletes expired keys and reports how many were removed. Errors
// are logged; the next tick tries again.
func (s *IdempotencySweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to delete expired idempotency keys")
		return 0
	}
	if n > 0 {
		s.logger.Debug().Int64("deleted", n).Msg("Expired idempotency keys deleted")
	}
	return n
}
