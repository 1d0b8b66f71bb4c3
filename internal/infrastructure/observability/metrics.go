package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TagKeys is the fixed label set for provider and capture timings.
var TagKeys = []string{"provider_name", "country", "resource", "action", "status_code", "request_status"}

// Metrics holds all application metrics
type Metrics struct {
	// Provider I/O
	ProviderLatency *prometheus.HistogramVec

	// Capture state machine
	CaptureTransitions  *prometheus.HistogramVec
	ConsistencyFailures *prometheus.CounterVec

	// Scheduler
	SchedulerHeartbeat prometheus.Counter
	CaptureDispatched  *prometheus.CounterVec
	JobRuns            *prometheus.CounterVec

	// Worker pool
	PoolJobs       *prometheus.GaugeVec
	PoolMaxWorkers *prometheus.GaugeVec

	// Outbox relay
	OutboxRelayed *prometheus.CounterVec

	// Health and admin HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Catch-all for telemetry names without a dedicated collector
	TelemetryEvents *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Latency of payment provider calls",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			TagKeys,
		),
		CaptureTransitions: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capture_attempt_duration_seconds",
				Help:      "Capture attempt duration by outcome",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			TagKeys,
		),
		ConsistencyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_consistency_failures_total",
				Help:      "Captures confirmed by the provider that could not be recorded locally",
			},
			[]string{"provider_name"},
		),
		SchedulerHeartbeat: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_heartbeat_total",
				Help:      "Scheduler liveness heartbeats",
			},
		),
		CaptureDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_dispatched_total",
				Help:      "Capture orchestrations submitted to the pool by result",
			},
			[]string{"pool", "result"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Scheduled job executions by job and status",
			},
			[]string{"job", "status"},
		),
		PoolJobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_job_pool_jobs",
				Help:      "Worker pool job counters by state",
			},
			[]string{"pool", "state"},
		),
		PoolMaxWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_job_pool_max_workers",
				Help:      "Configured worker pool size",
			},
			[]string{"pool"},
		),
		OutboxRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_relayed_total",
				Help:      "Outbox entries relayed to the event stream",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TelemetryEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telemetry_events_total",
				Help:      "Telemetry events without a dedicated collector",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.ProviderLatency,
		m.CaptureTransitions,
		m.ConsistencyFailures,
		m.SchedulerHeartbeat,
		m.CaptureDispatched,
		m.JobRuns,
		m.PoolJobs,
		m.PoolMaxWorkers,
		m.OutboxRelayed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TelemetryEvents,
	)

	return m
}
