// Package telemetry implements the Telemetry component:
// one structured record per terminated request, per-route/backend
// Prometheus metrics, and OpenTelemetry trace spans covering accept to
// emit.
package telemetry

import (
	"time"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// PolicyDecision records one phase's outcome for the telemetry record.
type PolicyDecision struct {
	RuleID string
	Kind   config.PolicyKind
	Result string // "allow" | "deny" | "allow-with-modification"
	Reason string
}

// Record is the structured per-request log entry emitted on completion.
type Record struct {
	CorrelationID string

	Timing config.Timing

	RouteName   string
	BackendName string

	UpstreamHTTPVersion string
	UpstreamALPNConfigured string
	UpstreamALPNNegotiated string

	ResponseCode int
	BytesIn      int64
	BytesOut     int64

	RetryCount   int
	RetryOutcome string

	IdentityScheme  string
	IdentitySubject string

	PolicyDecisions []PolicyDecision

	// AI fields, populated only for AI backends.
	AIProvider      string
	AIRequestModel  string
	AIResponseModel string
	AIInputTokens   int
	AIOutputTokens  int
	AITotalTokens   int

	// MCP fields, populated only for MCP backends.
	MCPMethod    string
	MCPToolName  string
	MCPSessionID string

	NoRouteReason string
}

// TotalLatency is accept-to-complete wall time.
func (r *Record) TotalLatency() time.Duration {
	if r.Timing.Complete.IsZero() || r.Timing.Accept.IsZero() {
		return 0
	}
	return r.Timing.Complete.Sub(r.Timing.Accept)
}

// TimeToFirstByte is accept-to-first-byte wall time.
func (r *Record) TimeToFirstByte() time.Duration {
	if r.Timing.FirstByte.IsZero() || r.Timing.Accept.IsZero() {
		return 0
	}
	return r.Timing.FirstByte.Sub(r.Timing.Accept)
}
