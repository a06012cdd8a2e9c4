package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hopngo/payments/internal/providers"

// UnknownProviderError is returned when a name is not registered.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider not supported: %q", e.Name)
}

func (e *UnknownProviderError) Unwrap() error {
	return domainErrors.ErrProviderNotFound
}

// RegistryConfig bounds every outbound provider call.
type RegistryConfig struct {
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Registry resolves providers by exact name and wraps each one with a
// circuit breaker, a call timeout, tracing and metrics.
type Registry struct {
	cfg      RegistryConfig
	metrics  *observability.Metrics
	logger   zerolog.Logger
	tracer   trace.Tracer
	guarded  map[string]Provider
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewRegistry(cfg RegistryConfig, metrics *observability.Metrics, logger zerolog.Logger, providersList ...Provider) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 10
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	r := &Registry{
		cfg:      cfg,
		metrics:  metrics,
		logger:   observability.Component(logger, "provider_registry"),
		tracer:   otel.Tracer(tracerName),
		guarded:  make(map[string]Provider),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for _, p := range providersList {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	name := p.Name()
	threshold := uint32(r.cfg.BreakerThreshold)

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     r.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		// Only transient faults say anything about the processor's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !domainErrors.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			r.logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	r.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	g := &guardedProvider{inner: p, breaker: breaker, registry: r}
	if sc, ok := p.(StatusChecker); ok {
		r.guarded[name] = &guardedStatusProvider{guardedProvider: g, checker: sc}
	} else {
		r.guarded[name] = g
	}
	r.breakers[name] = breaker
}

// Get resolves a provider by exact, case-sensitive name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.guarded[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return p, nil
}

// Lookup is the optional form of Get.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.guarded[name]
	return p, ok
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.guarded))
	for name := range r.guarded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BreakerState reports the breaker state of a registered provider.
func (r *Registry) BreakerState(name string) (gobreaker.State, bool) {
	b, ok := r.breakers[name]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return b.State(), true
}

type guardedProvider struct {
	inner    Provider
	breaker  *gobreaker.CircuitBreaker[any]
	registry *Registry
}

func (g *guardedProvider) Name() string { return g.inner.Name() }

func (g *guardedProvider) ParseWebhook(payload []byte) (*Notification, error) {
	return g.inner.ParseWebhook(payload)
}

func (g *guardedProvider) VerifyWebhook(payload []byte, headers http.Header) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			g.registry.logger.Error().
				Str("provider", g.Name()).
				Interface("panic", rec).
				Msg("Webhook verification panicked")
			ok = false
		}
	}()
	return g.inner.VerifyWebhook(payload, headers)
}

func (g *guardedProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	cfg := retry.Config{
		MaxAttempts:  uint(g.registry.cfg.MaxRetries),
		InitialDelay: g.registry.cfg.RetryDelay,
		MaxDelay:     5 * time.Second,
		RetryIf: func(err error) bool {
			return domainErrors.IsTransient(err) && !errors.Is(err, gobreaker.ErrOpenState)
		},
		OnRetry: func(n uint, err error) {
			g.registry.logger.Warn().Err(err).
				Str("provider", g.Name()).
				Uint("attempt", n+1).
				Msg("Retrying payment intent creation")
		},
	}
	return retry.DoWithResult(ctx, cfg, func() (*IntentResult, error) {
		return call(g, ctx, "create_intent", func(ctx context.Context) (*IntentResult, error) {
			return g.inner.CreatePaymentIntent(ctx, req)
		})
	})
}

func (g *guardedProvider) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	return call(g, ctx, "refund", func(ctx context.Context) (*RefundResult, error) {
		return g.inner.RefundPayment(ctx, req)
	})
}

type guardedStatusProvider struct {
	*guardedProvider
	checker StatusChecker
}

func (g *guardedStatusProvider) IntentStatus(ctx context.Context, intentID string) (IntentStatus, error) {
	return call(g.guardedProvider, ctx, "intent_status", func(ctx context.Context) (IntentStatus, error) {
		return g.checker.IntentStatus(ctx, intentID)
	})
}

func call[T any](g *guardedProvider, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	name := g.Name()
	ctx, span := g.registry.tracer.Start(ctx, "provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.provider", name)),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.registry.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := g.breaker.Execute(func() (any, error) {
		v, err := fn(callCtx)
		if err != nil {
			return nil, classify(callCtx, name, op, err)
		}
		return v, nil
	})
	g.registry.metrics.ProviderRequestDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%s %s: %w: %w", name, op, domainErrors.ErrProviderUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.registry.metrics.ProviderErrors.WithLabelValues(name, op, errorType(err)).Inc()
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}

// classify maps raw adapter errors onto the domain taxonomy. Errors already
// carrying a domain sentinel pass through unchanged.
func classify(ctx context.Context, name, op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w", name, op, domainErrors.ErrProviderTimeout)
	case errors.Is(err, context.Canceled):
		return err
	case domainErrors.IsTransient(err), domainErrors.IsValidation(err), domainErrors.IsState(err):
		return err
	default:
		return fmt.Errorf("%s %s: %w: %w", name, op, domainErrors.ErrProviderUnavailable, err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, domainErrors.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, domainErrors.ErrProviderUnavailable):
		return "unavailable"
	case domainErrors.IsValidation(err):
		return "validation"
	default:
		return "other"
	}
}
