package telemetry

import (
	"github.com/agentgateway/agentgateway-core/internal/logging"
)

var logger = logging.New("telemetry")

// Emit writes r as a structured log entry and updates metrics. Called
// exactly once per terminated request, after the response phase completes.
func Emit(m *Metrics, r *Record) {
	fields := []any{
		"correlation_id", r.CorrelationID,
		"route", r.RouteName,
		"backend", r.BackendName,
		"response_code", r.ResponseCode,
		"upstream_version", r.UpstreamHTTPVersion,
		"upstream_alpn_configured", r.UpstreamALPNConfigured,
		"upstream_alpn_negotiated", r.UpstreamALPNNegotiated,
		"bytes_in", r.BytesIn,
		"bytes_out", r.BytesOut,
		"retry_count", r.RetryCount,
		"latency_ms", r.TotalLatency().Milliseconds(),
	}
	if r.IdentitySubject != "" {
		fields = append(fields, "identity_scheme", r.IdentityScheme, "identity_subject", r.IdentitySubject)
	}
	if r.NoRouteReason != "" {
		fields = append(fields, "no_route_reason", r.NoRouteReason)
	}
	if r.AITotalTokens > 0 {
		fields = append(fields, "ai_provider", r.AIProvider, "ai_request_model", r.AIRequestModel,
			"ai_response_model", r.AIResponseModel, "ai_total_tokens", r.AITotalTokens)
	}
	if r.MCPMethod != "" {
		fields = append(fields, "mcp_method", r.MCPMethod, "mcp_tool", r.MCPToolName, "mcp_session_id", r.MCPSessionID)
	}
	logger.Info("request completed", fields...)

	if m != nil {
		m.Observe(r)
	}
}
