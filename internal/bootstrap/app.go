package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/hopngo/payments/internal/infrastructure/config"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	infraRedis "github.com/hopngo/payments/internal/infrastructure/redis"
	"github.com/hopngo/payments/internal/providers"
	"github.com/hopngo/payments/internal/repository/postgres"
	"github.com/hopngo/payments/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the process-wide resources shared by the api and worker binaries.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).
		With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	logger.Info().Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Str("endpoint", cfg.Observability.JaegerEndpoint).Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	pool, err := postgres.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Str("host", cfg.Database.Host).Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Connected to Redis")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	}, nil
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close redis client")
	}
	a.Pool.Close()
}

// Repositories are the postgres-backed stores.
type Repositories struct {
	Payments    *postgres.PaymentRepository
	Refunds     *postgres.RefundRepository
	Webhooks    *postgres.WebhookRepository
	Orders      *postgres.OrderRepository
	Outbox      *postgres.OutboxRepository
	Idempotency *postgres.IdempotencyRepository
	Tx          *postgres.TxManager
}

// Services is the wired service layer plus the provider registry behind it.
type Services struct {
	Repos    Repositories
	Registry *providers.Registry
	Payments *service.PaymentService
	Refunds  *service.RefundService
	Webhooks *service.WebhookService
	Authz    *service.AuthzService
}

// Services builds the repositories, the provider registry and the services on top.
func (a *App) Services() *Services {
	repos := Repositories{
		Payments:    postgres.NewPaymentRepository(a.Pool),
		Refunds:     postgres.NewRefundRepository(a.Pool),
		Webhooks:    postgres.NewWebhookRepository(a.Pool),
		Orders:      postgres.NewOrderRepository(a.Pool),
		Outbox:      postgres.NewOutboxRepository(a.Pool),
		Idempotency: postgres.NewIdempotencyRepository(a.Pool),
		Tx:          postgres.NewTxManager(a.Pool),
	}

	pc := a.Config.Payment
	registry := providers.NewRegistry(providers.RegistryConfig{
		Timeout:          pc.ProviderTimeout,
		MaxRetries:       pc.MaxRetries,
		RetryDelay:       pc.RetryDelay,
		BreakerThreshold: pc.CircuitBreakerThreshold,
		BreakerTimeout:   pc.CircuitBreakerTimeout,
	}, a.Metrics, a.Logger, providers.FromConfig(a.Config.Providers)...)
	a.Logger.Info().Strs("providers", registry.Names()).Str("default", pc.DefaultProvider).Msg("Payment providers registered")

	locker := infraRedis.NewLocker(a.Redis, pc.LockTTL, a.Logger)

	payments := service.NewPaymentService(repos.Payments, repos.Orders, repos.Outbox, repos.Tx,
		registry, pc.DefaultProvider, a.Metrics, a.Logger)
	refunds := service.NewRefundService(repos.Refunds, repos.Payments, repos.Outbox, repos.Tx,
		locker, registry, a.Metrics, a.Logger)
	webhooks := service.NewWebhookService(repos.Webhooks, payments, repos.Tx, registry, a.Metrics, a.Logger)

	return &Services{
		Repos:    repos,
		Registry: registry,
		Payments: payments,
		Refunds:  refunds,
		Webhooks: webhooks,
		Authz:    service.NewAuthzService(repos.Payments, repos.Orders),
	}
}
