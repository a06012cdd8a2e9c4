package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	WebhookRateLimit int           `mapstructure:"webhook_rate_limit"`
	CORS             CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	SSLMode         string        `mapstructure:"ssl_mode"`

	// Reported as application_name so payments sessions stand out in pg_stat_activity.
	ApplicationName   string        `mapstructure:"application_name"`
	StatementTimeout  time.Duration `mapstructure:"statement_timeout"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// PaymentConfig holds settings shared by every outbound provider call.
type PaymentConfig struct {
	DefaultProvider         string        `mapstructure:"default_provider"`
	ProviderTimeout         time.Duration `mapstructure:"provider_timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

type ProvidersConfig struct {
	Mock   MockProviderConfig   `mapstructure:"mock"`
	Stripe StripeProviderConfig `mapstructure:"stripe"`
	Bkash  WalletProviderConfig `mapstructure:"bkash"`
	Nagad  WalletProviderConfig `mapstructure:"nagad"`
}

type MockProviderConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type StripeProviderConfig struct {
	SecretKey        string        `mapstructure:"secret_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	APIURL           string        `mapstructure:"api_url"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
}

// WalletProviderConfig configures a mobile-wallet processor (bKash, Nagad).
type WalletProviderConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	MerchantID   string `mapstructure:"merchant_id"`
	AppKey       string `mapstructure:"app_key"`
	WebhookToken string `mapstructure:"webhook_token"`
}

// Enabled reports whether enough is configured to call the wallet.
func (c WalletProviderConfig) Enabled() bool {
	return c.BaseURL != "" && c.WebhookToken != ""
}

type WorkerConfig struct {
	BatchSize           int64         `mapstructure:"batch_size"`
	BlockDuration       time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval  time.Duration `mapstructure:"outbox_poll_interval"`
	ConsumerGroup       string        `mapstructure:"consumer_group"`
	RefundRequestStream string        `mapstructure:"refund_request_stream"`
	EventStream         string        `mapstructure:"event_stream"`
	ClaimMinIdle        time.Duration `mapstructure:"claim_min_idle"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `mapstructure:"reconcile_stale_after"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotency_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PAYMENTS_PROVIDERS_STRIPE_SECRET_KEY -> providers.stripe.secret_key
	v.SetEnvPrefix("PAYMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payments")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields have valid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Payment.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.lock_ttl must be positive"))
	}
	if c.Payment.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.provider_timeout must be positive"))
	}
	if c.Payment.DefaultProvider == "" {
		errs = append(errs, fmt.Errorf("payment.default_provider is required"))
	} else if !c.providerConfigured(c.Payment.DefaultProvider) {
		errs = append(errs, fmt.Errorf("payment.default_provider %q is not configured", c.Payment.DefaultProvider))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Providers.Mock.Enabled {
			errs = append(errs, fmt.Errorf("providers.mock must be disabled in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (c *Config) providerConfigured(name string) bool {
	switch name {
	case "mock":
		return c.Providers.Mock.Enabled
	case "stripe":
		return c.Providers.Stripe.SecretKey != ""
	case "bkash":
		return c.Providers.Bkash.Enabled()
	case "nagad":
		return c.Providers.Nagad.Enabled()
	default:
		return false
	}
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.webhook_rate_limit", 600)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payments")
	v.SetDefault("database.password", "payments")
	v.SetDefault("database.database", "payments")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.application_name", "hopngo-payments")
	v.SetDefault("database.statement_timeout", "15s")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.connect_retry_delay", "1s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payment defaults
	v.SetDefault("payment.default_provider", "mock")
	v.SetDefault("payment.provider_timeout", "10s")
	v.SetDefault("payment.max_retries", 3)
	v.SetDefault("payment.retry_delay", "500ms")
	v.SetDefault("payment.lock_ttl", "30s")
	v.SetDefault("payment.circuit_breaker_threshold", 10)
	v.SetDefault("payment.circuit_breaker_timeout", "30s")

	// Provider defaults
	v.SetDefault("providers.mock.enabled", true)
	v.SetDefault("providers.mock.webhook_secret", "mock-webhook-secret")
	v.SetDefault("providers.stripe.secret_key", "")
	v.SetDefault("providers.stripe.webhook_secret", "")
	v.SetDefault("providers.stripe.api_url", "")
	v.SetDefault("providers.stripe.webhook_tolerance", "5m")
	v.SetDefault("providers.bkash.base_url", "")
	v.SetDefault("providers.bkash.app_key", "")
	v.SetDefault("providers.bkash.webhook_token", "")
	v.SetDefault("providers.nagad.base_url", "")
	v.SetDefault("providers.nagad.merchant_id", "")
	v.SetDefault("providers.nagad.webhook_token", "")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.consumer_group", "payment-refunds")
	v.SetDefault("worker.refund_request_stream", "bookings:refund-requested")
	v.SetDefault("worker.event_stream", "payments:events")
	v.SetDefault("worker.claim_min_idle", "1m")
	v.SetDefault("worker.reconcile_interval", "1m")
	v.SetDefault("worker.reconcile_stale_after", "15m")
	v.SetDefault("worker.idempotency_ttl", "24h")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("instance_id", "payments-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the connection string in URL form, as golang-migrate expects.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
