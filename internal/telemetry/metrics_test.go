package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveIncrementsRequestsAndBytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(&Record{RouteName: "r1", BackendName: "be1", ResponseCode: 200, BytesIn: 10, BytesOut: 20})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("r1", "be1", "200")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.BytesIn.WithLabelValues("r1", "be1")))
	assert.Equal(t, float64(20), testutil.ToFloat64(m.BytesOut.WithLabelValues("r1", "be1")))
}

func TestObserveSkipsRetriesWhenNoneOccurred(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(&Record{RouteName: "r1", BackendName: "be1"})

	assert.Equal(t, 0, testutil.CollectAndCount(m.RetriesTotal))
}

func TestObserveRecordsRetriesWhenPresent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(&Record{RouteName: "r1", BackendName: "be1", RetryCount: 2, RetryOutcome: "exhausted"})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RetriesTotal.WithLabelValues("r1", "be1", "exhausted")))
}

func TestObserveRecordsAITokenUsageByDirection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(&Record{
		RouteName: "r1", BackendName: "be1",
		AIProvider: "openai", AIInputTokens: 30, AIOutputTokens: 12, AITotalTokens: 42,
	})

	assert.Equal(t, float64(30), testutil.ToFloat64(m.AITokensTotal.WithLabelValues("be1", "openai", "input")))
	assert.Equal(t, float64(12), testutil.ToFloat64(m.AITokensTotal.WithLabelValues("be1", "openai", "output")))
}

func TestObserveSkipsAITokensWhenZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(&Record{RouteName: "r1", BackendName: "be1"})

	assert.Equal(t, 0, testutil.CollectAndCount(m.AITokensTotal))
}

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { NewMetrics(reg) })
}
