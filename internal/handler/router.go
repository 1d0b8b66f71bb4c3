package handler

import (
	"time"

	"github.com/cassiomorais/payments-capture/internal/infrastructure/config"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/payments-capture/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Health   *HealthHandler
	Admin    *AdminHandler
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer // nil means the default registry
	Server   config.ServerConfig
}

// NewRouter builds the ops server: probes, metrics and, when Admin is set,
// the admin API.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(customMW.SecurityHeaders())
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	r.Get("/health/live", deps.Health.Liveness)
	r.Get("/health/ready", deps.Health.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if deps.Admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(customMW.RateLimit(deps.Server.AdminRateLimit))
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type"},
				AllowCredentials: deps.Server.CORS.AllowCredentials,
				MaxAge:           300,
			}))

			r.Get("/jobs", deps.Admin.ListJobs)
			r.Post("/jobs/{name}/run", deps.Admin.RunJob)
			r.Get("/pool", deps.Admin.PoolStats)
			r.Put("/pool", deps.Admin.ResizePool)
			r.Get("/intents/{id}", deps.Admin.GetIntent)
			r.Post("/intents/{id}/capture", deps.Admin.CaptureIntent)
		})
	}

	return r
}
