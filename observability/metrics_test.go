package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.StepsTotal.WithLabelValues("completed").Inc()
	m.StepsTotal.WithLabelValues("failed").Add(2)
	m.EventsDropped.Inc()
	m.LeakAlertsTotal.WithLabelValues("TIMER_LEAK").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StepsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.StepsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LeakAlertsTotal.WithLabelValues("TIMER_LEAK")))
}

func TestNewMetricsDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
