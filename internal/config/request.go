package config

import "time"

// RequestContext is the mutable per-request object carried through the
// pipeline. It is created when a
// connection's request is accepted (bound to exactly one SnapshotHandle)
// and discarded once the response record is emitted.
type RequestContext struct {
	Snapshot SnapshotHandle

	Route   RouteIndex
	Rule    RuleIndex
	Backend BackendIndex
	HasRoute bool

	// Identity is set once the Authentication phase succeeds.
	Identity *Identity

	UpstreamVersion string // "1.1" | "2"
	SelectedEndpoint *Endpoint

	// HopHeaders are headers added/removed by the pipeline before
	// dispatch; kept separate from the original request so retries and
	// mirrors start from the untouched original.
	HopHeaders map[string][]string

	CorrelationID string

	Timing Timing

	// DenyStatus/DenyReason are set when a policy short-circuits the
	// request; zero means "not denied yet".
	DenyStatus int
	DenyReason string
	DenyBody   []byte

	RetryCount int
}

// Identity is the authenticated principal produced by the Authentication
// phase (JWT/OAuth2/BasicAuth/APIKeyAuth/MCPAuthentication).
type Identity struct {
	Scheme string // "jwt" | "oauth2" | "basic" | "apikey" | "mcp"
	Subject string
	Claims  map[string]any
}

// Timing captures the per-request timestamps emitted in the telemetry
// record.
type Timing struct {
	Accept           time.Time
	RouteMatched     time.Time
	UpstreamConnected time.Time
	FirstByte        time.Time
	Complete         time.Time
}

// NewRequestContext starts a RequestContext bound to handle. The caller
// must call handle appropriately (the context itself does not acquire or
// release the handle).
func NewRequestContext(handle SnapshotHandle, correlationID string) *RequestContext {
	return &RequestContext{
		Snapshot:      handle,
		HopHeaders:    map[string][]string{},
		CorrelationID: correlationID,
		Timing:        Timing{Accept: time.Now()},
	}
}

// Denied reports whether a prior policy phase has already short-circuited
// the request.
func (r *RequestContext) Denied() bool { return r.DenyStatus != 0 }

// Deny short-circuits the request with the given status/reason, the first
// call wins.
func (r *RequestContext) Deny(status int, reason string, body []byte) {
	if r.Denied() {
		return
	}
	r.DenyStatus = status
	r.DenyReason = reason
	r.DenyBody = body
}
