package controller

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is one readiness dependency, e.g. the database or redis.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthController struct {
	checks  []HealthCheck
	timeout time.Duration
}

func NewHealthController(checks ...HealthCheck) *HealthController {
	return &HealthController{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": c.Name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
