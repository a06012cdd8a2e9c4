package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hopngo/payments/internal/bootstrap"
	"github.com/hopngo/payments/internal/controller"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payments-api", "payments")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svcs := app.Services()
	cfg := app.Config

	if cfg.Auth.JWTSecret == "" {
		app.Logger.Warn().Msg("auth.jwt_secret is empty, authenticated API routes will reject every request")
	}

	router := controller.NewRouter(controller.RouterDeps{
		PaymentService:   svcs.Payments,
		RefundService:    svcs.Refunds,
		WebhookService:   svcs.Webhooks,
		AuthzService:     svcs.Authz,
		IdempotencyStore: svcs.Repos.Idempotency,
		IdempotencyTTL:   cfg.Worker.IdempotencyTTL,
		HealthChecks: []controller.HealthCheck{
			{Name: "database", Ping: app.Pool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }},
		},
		Metrics:          app.Metrics,
		CORSConfig:       cfg.Server.CORS,
		JWTSecret:        cfg.Auth.JWTSecret,
		WebhookRateLimit: cfg.Server.WebhookRateLimit,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()
	app.Logger.Info().Msg("Server exited")
}
