package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hopngo/payments/internal/infrastructure/config"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	customMW "github.com/hopngo/payments/internal/middleware"
	"github.com/hopngo/payments/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultWebhookRateLimit = 600

type RouterDeps struct {
	PaymentService   *service.PaymentService
	RefundService    *service.RefundService
	WebhookService   *service.WebhookService
	AuthzService     *service.AuthzService
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	HealthChecks     []HealthCheck
	Metrics          *observability.Metrics
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler   http.Handler
	CORSConfig       config.CORSConfig
	JWTSecret        string
	WebhookRateLimit int // requests per minute per IP and provider
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.HealthChecks...)
	webhookH := NewWebhookController(deps.WebhookService)
	paymentH := NewPaymentController(deps.PaymentService, deps.RefundService, deps.AuthzService)
	refundH := NewRefundController(deps.RefundService, deps.AuthzService)
	adminH := NewAdminController(deps.RefundService, deps.WebhookService)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// Provider callbacks authenticate by signature, not JWT.
	rateLimit := deps.WebhookRateLimit
	if rateLimit <= 0 {
		rateLimit = defaultWebhookRateLimit
	}
	r.With(customMW.WebhookRateLimit(rateLimit, deps.Metrics)).Post("/payments/webhooks/{provider}", webhookH.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RequireAuth(deps.JWTSecret))

		// Payments
		r.Post("/payments/intents", paymentH.CreateIntent)
		r.Get("/payments/{id}", paymentH.GetPayment)
		r.Get("/payments/{id}/refunds", paymentH.ListRefunds)

		// Refunds
		r.With(customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL)).Post("/refunds", refundH.Create)
		r.Post("/refunds/{id}/process", refundH.Process)
		r.Get("/refunds/{id}", refundH.Get)
		r.Get("/users/me/refunds", refundH.ListMine)

		// Operators
		r.Route("/admin", func(r chi.Router) {
			r.Use(customMW.RequireRole(customMW.RoleAdmin))
			r.Post("/refunds/{id}/retry", adminH.RetryRefund)
			r.Get("/webhooks/stats", adminH.WebhookStats)
		})
	})

	return r
}
