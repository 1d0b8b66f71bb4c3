package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/payments-capture/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newMetricsRouter(t *testing.T) (*chi.Mux, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(Metrics(m))
	return r, m
}

func TestMetrics_CountsByRoutePattern(t *testing.T) {
	r, m := newMetricsRouter(t)
	r.Post("/admin/jobs/{name}/run", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, name := range []string{"heartbeat", "adjust_pool_sizes"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/jobs/"+name+"/run", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}

	assert.Equal(t, 2.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/admin/jobs/{name}/run", "202")))
	assert.Equal(t, 1, promtest.CollectAndCount(m.HTTPRequestDuration))
}

func TestMetrics_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		write  bool
		want   string
	}{
		{"implicit 200 on write", 0, true, "200"},
		{"no content", http.StatusNoContent, false, "204"},
		{"conflict", http.StatusConflict, true, "409"},
		{"unavailable", http.StatusServiceUnavailable, false, "503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, m := newMetricsRouter(t)
			r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				if tt.write {
					_, _ = w.Write([]byte(`{}`))
				}
			})

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/health/ready", tt.want)))
		})
	}
}

func TestMetrics_HandlerWithoutResponse(t *testing.T) {
	r, m := newMetricsRouter(t)
	r.Get("/health/live", func(http.ResponseWriter, *http.Request) {})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/health/live", "200")))
}

func TestMetrics_UnmatchedPathsShareOneLabel(t *testing.T) {
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	h := Metrics(m)(http.NotFoundHandler())

	for _, p := range []string{"/wp-login.php", "/.env", "/admin/../etc/passwd"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 3.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")))
	assert.Equal(t, 1, promtest.CollectAndCount(m.HTTPRequestsTotal))
}
