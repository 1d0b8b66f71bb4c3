package observability

import (
	"time"
)

// Telemetry metric names.
const (
	MetricProviderLatency    = "io.provider.latency"
	MetricCaptureTransition  = "capture.transition"
	MetricConsistencyFailure = "capture.consistency_failure"
	MetricSchedulerHeartbeat = "scheduler.heartbeat"
)

// Telemetry is the sink for (name, value, tags) triples.
type Telemetry interface {
	Timing(name string, d time.Duration, tags map[string]string)
	Incr(name string, tags map[string]string)
}

// PrometheusTelemetry routes telemetry triples onto Metrics collectors.
type PrometheusTelemetry struct {
	m *Metrics
}

// NewPrometheusTelemetry creates a Telemetry backed by m.
func NewPrometheusTelemetry(m *Metrics) *PrometheusTelemetry {
	return &PrometheusTelemetry{m: m}
}

func (t *PrometheusTelemetry) Timing(name string, d time.Duration, tags map[string]string) {
	switch name {
	case MetricProviderLatency:
		t.m.ProviderLatency.WithLabelValues(LabelValues(tags)...).Observe(d.Seconds())
	case MetricCaptureTransition:
		t.m.CaptureTransitions.WithLabelValues(LabelValues(tags)...).Observe(d.Seconds())
	default:
		t.m.TelemetryEvents.WithLabelValues(name).Inc()
	}
}

func (t *PrometheusTelemetry) Incr(name string, tags map[string]string) {
	switch name {
	case MetricSchedulerHeartbeat:
		t.m.SchedulerHeartbeat.Inc()
	case MetricConsistencyFailure:
		t.m.ConsistencyFailures.WithLabelValues(tags["provider_name"]).Inc()
	default:
		t.m.TelemetryEvents.WithLabelValues(name).Inc()
	}
}

// LabelValues orders tags by TagKeys; missing tags become "".
func LabelValues(tags map[string]string) []string {
	values := make([]string, len(TagKeys))
	for i, k := range TagKeys {
		values[i] = tags[k]
	}
	return values
}

// NopTelemetry discards everything.
type NopTelemetry struct{}

func (NopTelemetry) Timing(string, time.Duration, map[string]string) {}
func (NopTelemetry) Incr(string, map[string]string)                  {}
