package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracing installs a process-wide OpenTelemetry TracerProvider so the
// otel.Tracer used by StartRequestSpan/StartUpstreamAttemptSpan produces real
// spans instead of the no-op default. Tests that never call this get the SDK's
// no-op tracer, which is safe and cheap.
func InitTracing() (shutdown func(context.Context) error, err error) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// InitMetricsBridge wires an OpenTelemetry MeterProvider that exports
// through the Prometheus exporter, sharing the default Prometheus registry
// used by the plain client_golang counters in Metrics so GET /metrics
// reports both families. It returns a no-op shutdown func if wiring fails.
func InitMetricsBridge() (shutdown func(context.Context) error, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return func(context.Context) error { return nil }, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
