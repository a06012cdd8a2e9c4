package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hopngo/payments/internal/bootstrap"
	infraRedis "github.com/hopngo/payments/internal/infrastructure/redis"
	"github.com/hopngo/payments/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payments-worker", "payments_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svcs := app.Services()
	workerCfg := app.Config.Worker

	// --- Outbox relay ---
	relay := worker.NewOutboxRelay(
		svcs.Repos.Tx,
		svcs.Repos.Outbox,
		infraRedis.NewEventPublisher(app.Redis, workerCfg.EventStream),
		int(workerCfg.BatchSize),
		workerCfg.OutboxPollInterval,
		app.Metrics,
		app.Logger,
	)

	// --- Refund request consumer ---
	stream := infraRedis.NewStreamConsumer(
		app.Redis,
		workerCfg.RefundRequestStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := stream.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Str("stream", workerCfg.RefundRequestStream).Msg("Failed to create consumer group")
		os.Exit(1)
	}
	consumer := worker.NewRefundRequestConsumer(
		stream,
		infraRedis.NewDeadLetter(app.Redis),
		svcs.Refunds,
		workerCfg.ClaimMinIdle,
		app.Metrics,
		app.Logger,
	)

	// --- Reconciler ---
	reconciler := worker.NewReconciler(
		worker.ReconcilerConfig{
			Interval:   workerCfg.ReconcileInterval,
			StaleAfter: workerCfg.ReconcileStaleAfter,
			BatchSize:  int(workerCfg.BatchSize),
		},
		svcs.Repos.Payments,
		svcs.Repos.Refunds,
		svcs.Payments,
		svcs.Refunds,
		svcs.Registry,
		app.Metrics,
		app.Logger,
	)

	sweeper := worker.NewIdempotencySweeper(svcs.Repos.Idempotency, workerCfg.ReconcileInterval, app.Logger)

	app.Logger.Info().
		Str("refund_stream", workerCfg.RefundRequestStream).
		Str("event_stream", workerCfg.EventStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gCtx) })
	g.Go(func() error { return consumer.Run(gCtx) })
	g.Go(func() error { return reconciler.Run(gCtx) })
	g.Go(func() error { return sweeper.Run(gCtx) })
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
