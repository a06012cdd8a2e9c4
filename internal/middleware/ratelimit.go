package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/rs/zerolog/log"
)

// WebhookRateLimit throttles the unauthenticated provider callback route.
// Each provider path has its own budget per client IP. Rejections are
// counted as rate_limited webhooks.
func WebhookRateLimit(requestsPerMinute int, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			provider := chi.URLParam(r, "provider")
			if metrics != nil {
				metrics.WebhooksTotal.WithLabelValues(provider, "rate_limited").Inc()
			}
			log.Warn().
				Bool("security", true).
				Str("provider", provider).
				Str("remote_addr", r.RemoteAddr).
				Msg("Webhook rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
				"code":  "rate_limit",
			})
		}),
	)
}
