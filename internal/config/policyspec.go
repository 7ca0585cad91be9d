package config

import "time"

// JWTSpec configures JWT authentication: a list of providers, each with
// its own issuer, audiences, and JWKS source.
type JWTSpec struct {
	Providers []JWTProviderSpec
}

type JWTProviderSpec struct {
	Issuer    string
	Audiences []string
	JWKSURI   string // remote JWKS endpoint
	JWKSInline []byte // local/inline JWKS document, mutually exclusive with JWKSURI
	ClaimsToHeaders map[string]string // claim name -> header name
	ForwardToken    bool
}

// OAuth2Spec configures a gateway/listener-scoped OAuth2 authentication
// mode.
type OAuth2Spec struct {
	SectionName  string
	Issuer       string
	ClientID     string
	TokenURL     string
	Scopes       []string
}

// BasicAuthSpec and APIKeyAuthSpec are the supplemented authentication kinds.
type BasicAuthSpec struct {
	// Realm is advertised in the WWW-Authenticate challenge on 401.
	Realm string
	// Users maps username -> hex-encoded sha256 of "username:password".
	Users map[string]string
}

type APIKeyAuthSpec struct {
	HeaderName string
	QueryParam string
	// ValidKeys maps key -> identity label for telemetry.
	ValidKeys map[string]string
}

// MCPAuthenticationSpec configures MCP Authorization-spec-compliant
// authentication.
type MCPAuthenticationSpec struct {
	Issuer              string
	Audience            string
	JWKSURI             string
	ResourceMetadataPath string
	Scopes              []string
}

// ExtAuthzSpec is one link in the append-merged ExtAuthz chain.
type ExtAuthzSpec struct {
	Target       string // host:port of the external authz service
	Timeout      time.Duration
	FailOpen     bool
	WithBody     bool
	MaxBodyBytes int
}

// CORSSpec configures CORS handling.
type CORSSpec struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// CSRFSpec is a supplemented policy kind guarding unsafe methods against
// cross-site request forgery by checking the Origin header against the
// request's own host plus AdditionalOrigins.
type CSRFSpec struct {
	AdditionalOrigins []string
}

// HeaderOp is one add/set/remove operation applied by a HeaderTransform.
type HeaderOp struct {
	Name  string
	Value string
	Op    FilterKind // FilterAddHeader | FilterSetHeader | FilterRemoveHeader
}

// HeaderTransformSpec deep-merges: child (more specific scope) operations
// for the same header name win; operations for distinct header names from
// different scopes all apply.
type HeaderTransformSpec struct {
	Request  []HeaderOp
	Response []HeaderOp
}

// RateLimitKind distinguishes the two supplemented RateLimit variants.
type RateLimitKind string

const (
	RateLimitLocal  RateLimitKind = "local"
	RateLimitGlobal RateLimitKind = "global"
)

// RateLimitSpec configures token-bucket rate limiting over an
// identity/route/custom key.
type RateLimitSpec struct {
	Kind RateLimitKind
	// KeyExpr is decoded but not evaluated: the bucket key is the
	// authenticated subject, or the route name for anonymous requests.
	KeyExpr        string
	RequestsPerUnit int
	Unit            time.Duration
	BurstSize       int
	// RedisAddr is decoded but not read; RateLimitGlobal uses the
	// process-wide Redis client configured from REDIS_ADDR.
	RedisAddr string
}

// TimeoutsSpec configures per-request timeouts.
type TimeoutsSpec struct {
	Connect time.Duration
	Request time.Duration
	Idle    time.Duration
}

// RetryOnCondition enumerates what triggers a retry attempt.
type RetryOnCondition string

const (
	RetryOnConnectFailure RetryOnCondition = "connect-failure"
	RetryOnRefusedStream  RetryOnCondition = "refused-stream"
)

// RetrySpec configures retry classification and budget.
type RetrySpec struct {
	Attempts       int
	PerTryTimeout  time.Duration
	RetryOnCodes   []int
	RetryOn        []RetryOnCondition
	IdempotentOnly bool
	BudgetRatio    float64
	BudgetMinConcurrent int
	// MaxBufferedBodyBytes bounds how much of the request body is
	// buffered to make a request retryable; exceeding it disables retry
	// for that request.
	MaxBufferedBodyBytes int
}

// BackendTLSVerification controls server certificate validation.
type BackendTLSVerification string

const (
	BackendTLSVerifySystem BackendTLSVerification = "system"
	BackendTLSInsecure     BackendTLSVerification = "insecure"
)

// BackendTLSSpec configures upstream TLS origination.
type BackendTLSSpec struct {
	Verification BackendTLSVerification
	SNIOverride  string
	TrustedCAPEM []byte
}

// HTTPVersionSpec is the explicit upstream protocol override, taking precedence
// over backend appProtocol and heuristics.
type HTTPVersionSpec struct {
	Version string // "1.1" | "2"
}

// TransformSpec describes CEL-driven body/header edits. Only GuardExpr is
// evaluated (by policy.Pipeline.Authorize); the header and body expressions
// and MaxBodyBytes are decoded but not applied to requests or responses.
type TransformSpec struct {
	RequestHeaderExpr  map[string]string // header name -> CEL expression
	ResponseHeaderExpr map[string]string
	RequestBodyExpr    string
	ResponseBodyExpr   string
	MaxBodyBytes       int
	// GuardExpr, if set, must evaluate truthy or the request is denied with 403
	// (authorization CEL guard, step 3).
	GuardExpr string
}

// BackendAuthKind tags how BackendAuthSpec authenticates to the upstream.
type BackendAuthKind string

const (
	BackendAuthNone   BackendAuthKind = ""
	BackendAuthBearer BackendAuthKind = "bearer"
	BackendAuthBasic  BackendAuthKind = "basic"
	BackendAuthAWSSig BackendAuthKind = "aws-sigv4"
)

// BackendAuthSpec deep-merges: a more specific scope's set fields replace
// the parent's same-named fields, leaving others untouched.
type BackendAuthSpec struct {
	Kind     BackendAuthKind
	Token    string
	Username string
	Password string
	Region   string
}

// InferenceRoutingFailureMode controls behavior when the external
// endpoint-picker is unreachable.
type InferenceRoutingFailureMode string

const (
	FailOpen  InferenceRoutingFailureMode = "FAIL_OPEN"
	FailClosed InferenceRoutingFailureMode = "FAIL_CLOSED"
)

// InferenceRoutingSpec configures consultation of an external
// gRPC endpoint-picker for AI-aware load balancing.
type InferenceRoutingSpec struct {
	PickerTarget string // host:port of the endpoint-picker gRPC service
	FailureMode  InferenceRoutingFailureMode
	Timeout      time.Duration
	// AffinityKeyExpr is decoded but not evaluated; endpoint selection
	// does not use it for ring-hash session affinity.
	AffinityKeyExpr string
}

// GuardRuleSpec pairs a sensitive-data category with the action to take on
// a match, applied to AI backend chat request text before it is dispatched.
type GuardRuleSpec struct {
	Category string
	Action   string // "mask" | "reject"
}

// PromptGuardSpec is the MergeAppend chain of guard rules scanning an AI
// backend's request text, evaluated in attachment order.
type PromptGuardSpec struct {
	Rules []GuardRuleSpec
}

// AIMessageSpec is one fixed chat message a PromptEnrichmentSpec splices
// into a request.
type AIMessageSpec struct {
	Role    string
	Content string
}

// PromptEnrichmentSpec prepends/appends fixed messages to an AI backend's
// chat request body, e.g. a system prompt injected by policy.
type PromptEnrichmentSpec struct {
	PrependMessages []AIMessageSpec
	AppendMessages  []AIMessageSpec
}
