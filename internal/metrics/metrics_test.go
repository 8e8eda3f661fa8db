package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordResolution(t *testing.T) {
	before := getCounterValue(ResolutionsTotal, "claim")
	beforeObs := getHistogramCount(ResolutionDurationSeconds)

	RecordResolution("claim", 15*time.Millisecond)

	assert.Equal(t, before+1, getCounterValue(ResolutionsTotal, "claim"))
	assert.Equal(t, beforeObs+1, getHistogramCount(ResolutionDurationSeconds))
}

func TestRecordCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		vec    *prometheus.CounterVec
		labels []string
	}{
		{"profile lookup", func() { RecordProfileLookup("missing") }, ProfileLookupsTotal, []string{"missing"}},
		{"override", func() { RecordOverride("granted") }, OverridesTotal, []string{"granted"}},
		{"guard", func() { RecordGuardDecision("admin", "denied") }, GuardDecisionsTotal, []string{"admin", "denied"}},
		{"login", func() { RecordLoginAttempt("rate_limited") }, LoginAttemptsTotal, []string{"rate_limited"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := getCounterValue(tt.vec, tt.labels...)
			tt.record()
			assert.Equal(t, before+1, getCounterValue(tt.vec, tt.labels...))
		})
	}
}

func TestMetricsAreRegistered(t *testing.T) {
	RecordLoginAttempt("success")
	ConsoleSessions.Set(2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["consentdesk_login_attempts_total"])
	assert.True(t, names["consentdesk_console_sessions"])
	assert.True(t, names["consentdesk_resolution_duration_seconds"])
}
