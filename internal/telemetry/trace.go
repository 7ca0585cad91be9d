package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the process-wide OpenTelemetry tracer, producing one span
// per request (accept -> emit) with nested spans for upstream attempts.
var Tracer = otel.Tracer("github.com/agentgateway/agentgateway-core")

// StartRequestSpan opens the top-level span for one accepted request.
func StartRequestSpan(ctx context.Context, routeName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "agentgateway.request", trace.WithAttributes(
		attribute.String("route", routeName),
	))
}

// StartUpstreamAttemptSpan opens a child span for one upstream dispatch
// attempt, nested under the request span already in ctx.
func StartUpstreamAttemptSpan(ctx context.Context, backendName string, attempt int) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "agentgateway.upstream_attempt", trace.WithAttributes(
		attribute.String("backend", backendName),
		attribute.Int("attempt", attempt),
	))
}

// AnnotateRecord copies Record fields onto the request span as attributes
// before it ends, so spans and logs agree on the same facts.
func AnnotateRecord(span trace.Span, r *Record) {
	span.SetAttributes(
		attribute.String("correlation_id", r.CorrelationID),
		attribute.Int("response_code", r.ResponseCode),
		attribute.String("upstream.http_version", r.UpstreamHTTPVersion),
		attribute.Int("retry_count", r.RetryCount),
	)
	if r.AITotalTokens > 0 {
		span.SetAttributes(attribute.Int("llm.total_tokens", r.AITotalTokens))
	}
}
