// Package config implements the Config Store: atomic, versioned snapshots
// of binds, listeners, routes, backends, and policies, consumed by the
// matching engine, policy pipeline, and endpoint selector via lock-free
// reads.
//
// Configuration objects form a cyclic graph (routes reference policies and
// backends, policies reference backends, ...). Rather than modeling that
// graph with pointers, every entity lives in a typed arena inside a
// Snapshot and is referenced by a stable integer index (BindIndex,
// RouteIndex, ...). The Snapshot itself is reference-counted and
// immutable; publishing a new configuration never mutates an
// already-published Snapshot.
package config

import "time"

// Protocol is the transport a Bind listens on.
type Protocol string

const (
	ProtocolHTTP    Protocol = "HTTP"
	ProtocolHTTPTLS Protocol = "HTTPS"
)

// PathMatchType selects how Route.Path is interpreted.
type PathMatchType string

const (
	PathExact  PathMatchType = "exact"
	PathPrefix PathMatchType = "prefix"
	PathRegex  PathMatchType = "regex"
)

// MergeStrategy is how multiple scope attachments of the same policy kind
// are combined into one effective value.
type MergeStrategy string

const (
	MergeReplace MergeStrategy = "replace"
	MergeDeep    MergeStrategy = "merge"
	MergeAppend  MergeStrategy = "append"
)

// Scope is the attachment point of a Policy, ordered ascending by
// precedence: a Backend-scoped policy outranks a Route-scoped one, etc.
type Scope int

const (
	ScopeBind Scope = iota
	ScopeListener
	ScopeRoute
	ScopeRule
	ScopeBackend
)

func (s Scope) String() string {
	switch s {
	case ScopeBind:
		return "bind"
	case ScopeListener:
		return "listener"
	case ScopeRoute:
		return "route"
	case ScopeRule:
		return "rule"
	case ScopeBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Index types give every arena-owned entity a stable, snapshot-scoped
// identity that survives being passed by value through the request
// pipeline without pinning the whole graph in memory.
type (
	BindIndex    int
	ListenerIndex int
	RouteIndex   int
	RuleIndex    int
	BackendIndex int
	PolicyIndex  int
	EndpointIndex int
)

// Bind is a listening socket address + protocol. No two binds in a
// snapshot may share (Address, Port).
type Bind struct {
	Address   string
	Port      uint32
	Protocol  Protocol
	Listeners []ListenerIndex
}

// TLSConfig is the downstream TLS material for a Listener.
type TLSConfig struct {
	CertPEM      []byte
	KeyPEM       []byte
	TrustedCAPEM []byte
	// ALPNProtocols advertised during the downstream TLS handshake, most
	// preferred first, e.g. []string{"h2", "http/1.1"}.
	ALPNProtocols []string
}

// DownstreamHTTPVersion constrains which HTTP versions a Listener accepts
// from clients.
type DownstreamHTTPVersion string

const (
	DownstreamAuto DownstreamHTTPVersion = "auto"
	DownstreamH1   DownstreamHTTPVersion = "1.1"
	DownstreamH2   DownstreamHTTPVersion = "2"
)

// Listener is a logical endpoint under a Bind, selected by SNI/Host.
type Listener struct {
	Bind BindIndex
	Name string
	// Hostnames this listener answers for. A single "*" listener matches
	// any host; wildcard entries ("*.example.com") match by longest
	// suffix.
	Hostnames []string
	TLS       *TLSConfig
	Version   DownstreamHTTPVersion
	Routes    []RouteIndex
	Policies  []PolicyIndex
}

// HeaderMatchType is how a header predicate compares its value.
type HeaderMatchType string

const (
	HeaderExact  HeaderMatchType = "exact"
	HeaderRegex  HeaderMatchType = "regex"
	HeaderPrefix HeaderMatchType = "prefix"
)

// HeaderMatch is a single header predicate. Name comparison is always
// case-insensitive; Value comparison is case-sensitive unless
// CaseInsensitive is set.
type HeaderMatch struct {
	Name            string
	Value           string
	Type            HeaderMatchType
	CaseInsensitive bool
	Invert          bool
}

// QueryMatch is a single query parameter predicate.
type QueryMatch struct {
	Name  string
	Value string
	Type  HeaderMatchType
}

// RouteMatch is the route-level predicate: host set, path match, method
// set, and any header/query predicates that must additionally hold for a
// rule within the route to be considered.
type RouteMatch struct {
	Hostnames []string
	PathType  PathMatchType
	Path      string
	Methods   []string
	Headers   []HeaderMatch
	Queries   []QueryMatch
}

// FilterKind tags a RuleFilter's variant.
type FilterKind string

const (
	FilterRewriteHost FilterKind = "rewrite_host"
	FilterRewritePath FilterKind = "rewrite_path"
	FilterAddHeader   FilterKind = "add_header"
	FilterSetHeader   FilterKind = "set_header"
	FilterRemoveHeader FilterKind = "remove_header"
	FilterRedirect    FilterKind = "redirect"
	FilterMirror      FilterKind = "mirror"
	FilterDirectResponse FilterKind = "direct_response"
)

// RuleFilter is one request-side transform attached to a Rule. Redirect
// and DirectResponse are terminal: they short-circuit dispatch to a
// backend entirely.
type RuleFilter struct {
	Kind FilterKind

	HeaderName  string
	HeaderValue string

	RewriteTo string // new host or path prefix/full path

	RedirectScheme     string
	RedirectHostname   string
	RedirectPort       uint32
	RedirectPath       string
	RedirectStatusCode int

	MirrorBackend BackendIndex
	MirrorPercent float64

	DirectResponseStatus int
	DirectResponseBody   []byte
}

// WeightedBackend is one member of a Rule's weighted backend set.
type WeightedBackend struct {
	Backend BackendIndex
	Weight  int
}

// Rule is one entry in a Route's ordered rule list. Exactly one Rule
// fires per matched request: the first whose header/query predicates
// (beyond the owning Route's match) hold.
type Rule struct {
	Name     string
	Headers  []HeaderMatch
	Queries  []QueryMatch
	Filters  []RuleFilter
	Backends []WeightedBackend
	Policies []PolicyIndex
	// Index is the rule's declared configuration order, used as the final
	// tie-break
	Index int
}

// Route is a match predicate plus an ordered list of rules.
type Route struct {
	Name     string
	Listener ListenerIndex
	Match    RouteMatch
	Rules    []RuleIndex
	Policies []PolicyIndex
	// Index is the route's declared configuration order (tie-break #4).
	Index int
}

// BackendKind tags a Backend's variant.
type BackendKind string

const (
	BackendService BackendKind = "service"
	BackendAI      BackendKind = "ai"
	BackendMCP     BackendKind = "mcp"
	BackendOpaque  BackendKind = "opaque"
)

// AppProtocol is an explicit upstream protocol hint carried by a Service
// backend.
type AppProtocol string

const (
	AppProtocolUnset AppProtocol = ""
	AppProtocolHTTP  AppProtocol = "http"
	AppProtocolHTTP2 AppProtocol = "http2"
	AppProtocolGRPC  AppProtocol = "grpc"
)

// AIProvider identifies the upstream LLM provider shape for an AI backend.
type AIProvider string

const (
	AIProviderOpenAI    AIProvider = "openai"
	AIProviderAzure     AIProvider = "azure-openai"
	AIProviderAnthropic AIProvider = "anthropic"
	AIProviderGemini    AIProvider = "gemini"
	AIProviderVertexAI  AIProvider = "vertex-ai"
	AIProviderBedrock   AIProvider = "bedrock"
)

// Backend is the named target of a Rule.
type Backend struct {
	Name string
	Kind BackendKind

	// Service backend fields.
	Hostname    string
	Port        uint32
	AppProtocol AppProtocol

	// AI backend fields.
	AIProvider     AIProvider
	AIModel        string
	AIHostOverride string

	// MCP backend fields.
	MCPTargetName string

	Policies []PolicyIndex

	// Endpoints is populated by the resolver and swapped
	// atomically on update; it is never mutated element-wise.
	Endpoints []Endpoint
}

// EndpointHealth is the outlier-ejection state of an Endpoint.
type EndpointHealth string

const (
	HealthHealthy   EndpointHealth = "healthy"
	HealthEjected   EndpointHealth = "ejected"
	HealthUnhealthy EndpointHealth = "unhealthy"
)

// Endpoint is a live instance of a Backend, produced by the resolver.
type Endpoint struct {
	Address string
	Port    uint32
	Weight  int
	Health  EndpointHealth

	ConsecutiveFailures int
	EjectedUntil        time.Time
}

// PolicyKind tags a Policy's variant.
type PolicyKind string

const (
	PolicyJWT               PolicyKind = "JWT"
	PolicyOAuth2             PolicyKind = "OAuth2"
	PolicyBasicAuth          PolicyKind = "BasicAuth"
	PolicyAPIKeyAuth         PolicyKind = "APIKeyAuth"
	PolicyExtAuthz           PolicyKind = "ExtAuthz"
	PolicyCORS               PolicyKind = "CORS"
	PolicyCSRF               PolicyKind = "CSRF"
	PolicyHeaderTransform    PolicyKind = "HeaderTransform"
	PolicyRateLimit          PolicyKind = "RateLimit"
	PolicyTimeouts           PolicyKind = "Timeouts"
	PolicyRetry              PolicyKind = "Retry"
	PolicyBackendTLS         PolicyKind = "BackendTLS"
	PolicyHTTPVersion        PolicyKind = "HTTPVersion"
	PolicyTransform          PolicyKind = "Transform"
	PolicyMCPAuthentication  PolicyKind = "MCPAuthentication"
	PolicyBackendAuth        PolicyKind = "BackendAuth"
	PolicyInferenceRouting   PolicyKind = "InferenceRouting"
	PolicyPromptGuard        PolicyKind = "PromptGuard"
	PolicyPromptEnrichment   PolicyKind = "PromptEnrichment"
)

// MergeStrategyFor returns the merge semantics for a policy kind,
func MergeStrategyFor(k PolicyKind) MergeStrategy {
	switch k {
	case PolicyHeaderTransform, PolicyBackendAuth, PolicyTransform:
		return MergeDeep
	case PolicyExtAuthz, PolicyPromptGuard:
		return MergeAppend
	default:
		return MergeReplace
	}
}

// Policy is a typed, targetable object attached at exactly one Scope.
// The Spec field holds the kind-specific payload (one of the Policy*Spec
// types in policyspec.go).
type Policy struct {
	Name  string
	Kind  PolicyKind
	Scope Scope
	Spec  any

	// Status mirrors the Accepted/Reason condition pattern used for
	// runtime policy validation.
	Accepted bool
	Reason   string
	Message  string
}
