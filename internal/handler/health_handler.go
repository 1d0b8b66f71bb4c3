package handler

import (
	"context"
	"net/http"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	running func() bool
	checks  map[string]Check
}

// NewHealthHandler reports live once running returns true. checks are
// consulted for readiness only.
func NewHealthHandler(running func() bool, checks map[string]Check) *HealthHandler {
	return &HealthHandler{running: running, checks: checks}
}

// Liveness handles GET /health/live
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	if !h.running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness handles GET /health/ready: the scheduler must be running and
// every dependency reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if !h.running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "scheduler not running",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
