package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureTags(status string) map[string]string {
	return map[string]string{
		"provider_name":  "stripe",
		"country":        "US",
		"resource":       "payment_intent",
		"action":         "capture",
		"status_code":    "200",
		"request_status": status,
	}
}

func TestPrometheusTelemetry_ProviderLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	tel := NewPrometheusTelemetry(m)

	tel.Timing(MetricProviderLatency, 120*time.Millisecond, captureTags("success"))

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "test_provider_latency_seconds" {
			continue
		}
		found = true
		require.Len(t, mf.Metric, 1)
		assert.Equal(t, uint64(1), mf.Metric[0].GetHistogram().GetSampleCount())

		labels := map[string]string{}
		for _, lp := range mf.Metric[0].Label {
			labels[lp.GetName()] = lp.GetValue()
		}
		assert.Equal(t, captureTags("success"), labels)
	}
	assert.True(t, found, "provider_latency_seconds should be recorded")
}

func TestPrometheusTelemetry_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	tel := NewPrometheusTelemetry(m)

	tel.Incr(MetricSchedulerHeartbeat, nil)
	tel.Incr(MetricSchedulerHeartbeat, nil)
	tel.Incr(MetricConsistencyFailure, map[string]string{"provider_name": "stripe"})
	tel.Incr("something.else", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SchedulerHeartbeat))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsistencyFailures.WithLabelValues("stripe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryEvents.WithLabelValues("something.else")))
}

func TestLabelValues_MissingTags(t *testing.T) {
	values := LabelValues(map[string]string{"action": "capture"})
	require.Len(t, values, len(TagKeys))
	assert.Equal(t, []string{"", "", "", "capture", "", ""}, values)
}
