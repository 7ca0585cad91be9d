package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEmitUpdatesMetricsWhenProvided(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	Emit(m, &Record{RouteName: "r1", BackendName: "be1", ResponseCode: 200})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("r1", "be1", "200")))
}

func TestEmitToleratesNilMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(nil, &Record{RouteName: "r1", BackendName: "be1", ResponseCode: 500})
	})
}

func TestEmitIncludesNoRouteReasonWithoutPanicking(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(nil, &Record{NoRouteReason: "no matching route"})
	})
}
