package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() (*observability.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return observability.NewMetrics("test", reg), reg
}

func TestMetrics_RecordsRequest(t *testing.T) {
	metrics, reg := newTestMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_http_requests_total"])
	assert.True(t, names["test_http_request_duration_seconds"])
}

func TestMetrics_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		label      string
	}{
		{"200 OK", http.StatusOK, "200"},
		{"201 Created", http.StatusCreated, "201"},
		{"401 Bad signature", http.StatusUnauthorized, "401"},
		{"404 Not Found", http.StatusNotFound, "404"},
		{"503 Provider down", http.StatusServiceUnavailable, "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, _ := newTestMetrics()

			r := chi.NewRouter()
			r.Use(Metrics(metrics))
			r.Post("/payments/webhooks/{provider}", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payments/webhooks/stripe", nil))

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, float64(1), promtest.ToFloat64(
				metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/payments/webhooks/{provider}", tt.label)))
		})
	}
}

func TestMetrics_UsesRoutePatternNotPath(t *testing.T) {
	metrics, _ := newTestMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/api/v1/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+id, nil))
	}

	assert.Equal(t, float64(3), promtest.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/payments/{id}", "200")))
}

func TestMetrics_UnmatchedRoutesShareOneLabel(t *testing.T) {
	metrics, _ := newTestMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/.env", nil))

	assert.Equal(t, float64(2), promtest.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")))
}

func TestMetrics_WithoutRouter(t *testing.T) {
	metrics, _ := newTestMetrics()

	h := Metrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unknown", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), promtest.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "200")))
}

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
	sw.Write([]byte("test"))
	assert.Equal(t, http.StatusOK, sw.statusCode)

	w = httptest.NewRecorder()
	sw = &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
	sw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, sw.statusCode)
	assert.Equal(t, http.StatusCreated, w.Code)
}
