package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"go.opentelemetry.io/otel/attribute"
)

func withRecordingTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTracer := Tracer
	Tracer = tp.Tracer("test")
	t.Cleanup(func() { Tracer = prevTracer })
	return exporter
}

func TestStartRequestSpanSetsRouteAttribute(t *testing.T) {
	exporter := withRecordingTracer(t)

	_, span := StartRequestSpan(context.Background(), "r1")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agentgateway.request", spans[0].Name)
	assertHasAttribute(t, spans[0].Attributes, "route", attribute.StringValue("r1"))
}

func TestStartUpstreamAttemptSpanSetsBackendAndAttempt(t *testing.T) {
	exporter := withRecordingTracer(t)

	_, span := StartUpstreamAttemptSpan(context.Background(), "be1", 2)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agentgateway.upstream_attempt", spans[0].Name)
	assertHasAttribute(t, spans[0].Attributes, "backend", attribute.StringValue("be1"))
	assertHasAttribute(t, spans[0].Attributes, "attempt", attribute.IntValue(2))
}

func TestAnnotateRecordSetsLLMAttributeOnlyWhenTokensPresent(t *testing.T) {
	exporter := withRecordingTracer(t)

	_, span := StartRequestSpan(context.Background(), "r1")
	AnnotateRecord(span, &Record{CorrelationID: "abc", ResponseCode: 200, AITotalTokens: 99})
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assertHasAttribute(t, spans[0].Attributes, "llm.total_tokens", attribute.IntValue(99))
}

func assertHasAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want attribute.Value) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			assert.Equal(t, want, a.Value)
			return
		}
	}
	t.Fatalf("attribute %q not found", key)
}
