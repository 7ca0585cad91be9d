package policy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentgateway/agentgateway-core/internal/celengine"
	"github.com/agentgateway/agentgateway-core/internal/config"
	"github.com/agentgateway/agentgateway-core/internal/logging"
)

var logger = logging.New("policy")

// Pipeline runs the ordered phases against a matched request: Authentication,
// Authorization, Request shaping and Rate limiting, followed by the
// response-side header transform on the way back out. A Transform policy
// contributes only its GuardExpr (in Authorize); its header and body
// expressions are not evaluated.
type Pipeline struct {
	JWT       *JWTVerifier
	OAuth2    *OAuth2Verifier
	RateLimit *RateLimiter
	ExtAuthz  ExtAuthzClient
	CEL       *celengine.Env
}

func NewPipeline(jwt *JWTVerifier, oauth2 *OAuth2Verifier, rl *RateLimiter, extAuthz ExtAuthzClient) *Pipeline {
	return &Pipeline{JWT: jwt, OAuth2: oauth2, RateLimit: rl, ExtAuthz: extAuthz, CEL: celengine.MustSchemaEnv()}
}

// Outcome is what the caller (internal/server) should do after running a
// phase: continue to the next phase, stop and write an error response, or
// (CORS preflight) stop and write a bare status with Headers attached.
type Outcome struct {
	Deny       bool
	Terminal   bool // true for a non-error terminal response, e.g. a CORS preflight
	StatusCode int
	Reason     string
	Challenge  string      // WWW-Authenticate header value, if any
	Headers    http.Header // headers the caller should merge into the response
}

func allow() Outcome { return Outcome{} }

func deny(status int, reason string) Outcome {
	return Outcome{Deny: true, StatusCode: status, Reason: reason}
}

func terminal(status int, headers http.Header) Outcome {
	return Outcome{Terminal: true, StatusCode: status, Headers: headers}
}

// Authenticate runs the first matching authentication scheme attached to chain.
// Exactly one of JWT/OAuth2/BasicAuth/APIKeyAuth/MCPAuthentication is expected
// conflict-detection invariant (validated at config time by
// config.validatePolicyConflicts), so the first configured scheme found is
// authoritative.
func (p *Pipeline) Authenticate(ctx context.Context, snap *config.Snapshot, chain Chain, req *http.Request) (*config.Identity, Outcome) {
	if jwtSpec := EffectiveJWT(snap, chain); jwtSpec != nil {
		identity, err := p.JWT.Authenticate(jwtSpec, BearerToken(req.Header.Get("Authorization")))
		if err != nil {
			return nil, deny(http.StatusUnauthorized, fmt.Sprintf("jwt: %v", err))
		}
		return identity, allow()
	}
	if oauthSpec := EffectiveOAuth2(snap, chain); oauthSpec != nil {
		identity, err := p.OAuth2.Authenticate(oauthSpec, BearerToken(req.Header.Get("Authorization")))
		if err != nil {
			return nil, deny(http.StatusUnauthorized, fmt.Sprintf("oauth2: %v", err))
		}
		return identity, allow()
	}
	if basicSpec := EffectiveBasicAuth(snap, chain); basicSpec != nil {
		identity, err := BasicAuthenticate(basicSpec, req.Header.Get("Authorization"))
		if err != nil {
			o := deny(http.StatusUnauthorized, fmt.Sprintf("basic: %v", err))
			o.Challenge = Challenge(basicSpec)
			return nil, o
		}
		return identity, allow()
	}
	if apiKeySpec := EffectiveAPIKeyAuth(snap, chain); apiKeySpec != nil {
		key := req.Header.Get(apiKeySpec.HeaderName)
		if key == "" && apiKeySpec.QueryParam != "" {
			key = req.URL.Query().Get(apiKeySpec.QueryParam)
		}
		identity, err := APIKeyAuthenticate(apiKeySpec, key)
		if err != nil {
			return nil, deny(http.StatusUnauthorized, fmt.Sprintf("apikey: %v", err))
		}
		return identity, allow()
	}
	if mcpSpec := EffectiveMCPAuthentication(snap, chain); mcpSpec != nil {
		identity, err := p.JWT.MCPAuthenticate(mcpSpec, BearerToken(req.Header.Get("Authorization")))
		if err != nil {
			o := deny(http.StatusUnauthorized, fmt.Sprintf("mcp: %v", err))
			o.Challenge = ResourceMetadataChallenge(mcpSpec, "https://"+req.Host)
			return nil, o
		}
		return identity, allow()
	}
	// No authentication scheme attached: anonymous.
	return nil, allow()
}

// Authorize runs the ExtAuthz chain then any guard CEL expression attached
// as a Transform policy.
func (p *Pipeline) Authorize(ctx context.Context, snap *config.Snapshot, chain Chain, req *http.Request, vars celengine.Vars) Outcome {
	if links := EffectiveExtAuthzChain(snap, chain); len(links) > 0 && p.ExtAuthz != nil {
		if err := RunExtAuthzChain(ctx, p.ExtAuthz, links, req); err != nil {
			return deny(http.StatusForbidden, err.Error())
		}
	}

	if transform := EffectiveTransform(snap, chain); transform != nil && transform.GuardExpr != "" {
		result := p.CEL.Eval(ctx, transform.GuardExpr, vars)
		if !result.Bool(celengine.FailClosed) {
			return deny(http.StatusForbidden, "authorization guard expression denied the request")
		}
	}
	return allow()
}

// ShapeRequest applies CORS, CSRF, and header-transform policies to the
// outbound request headers before rate limiting and dispatch. A CORS
// preflight (OPTIONS carrying Access-Control-Request-Method) is terminal:
// it never reaches CSRF, header-transform, or the backend. A simple
// request's CORS headers are returned on Outcome.Headers for the caller to
// merge into the eventual response.
func (p *Pipeline) ShapeRequest(snap *config.Snapshot, chain Chain, req *http.Request) Outcome {
	var corsHeaders http.Header
	if corsSpec := EffectiveCORS(snap, chain); corsSpec != nil {
		origin := req.Header.Get("Origin")
		isPreflight := req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != ""
		decision := EvaluateCORS(corsSpec, origin, req.Method, isPreflight)
		if decision.IsPreflight {
			return terminal(http.StatusNoContent, decision.Headers)
		}
		corsHeaders = decision.Headers
	}

	if csrfSpec := EffectiveCSRF(snap, chain); csrfSpec != nil {
		if err := CheckCSRF(csrfSpec, req.Method, req.Host, req.Header.Get("Origin")); err != nil {
			return deny(http.StatusForbidden, err.Error())
		}
	}
	if xform := EffectiveHeaderTransform(snap, chain); xform != nil {
		ApplyHeaderOps(req.Header, xform.Request)
	}
	return Outcome{Headers: corsHeaders}
}

// RateLimitCheck evaluates any RateLimit policy attached to chain against
// the bucket named by key, which the caller supplies (internal/server passes
// the authenticated subject, or the route name for anonymous requests).
func (p *Pipeline) RateLimitCheck(ctx context.Context, snap *config.Snapshot, chain Chain, key string) Outcome {
	spec := EffectiveRateLimit(snap, chain)
	if spec == nil || p.RateLimit == nil {
		return allow()
	}
	ok, err := p.RateLimit.Allow(ctx, spec, key)
	if err != nil {
		logger.Error("rate limit check failed, failing open", "err", err)
		return allow()
	}
	if !ok {
		return deny(http.StatusTooManyRequests, "rate limit exceeded")
	}
	return allow()
}

// ShapeResponse applies the response-side header transform to the upstream
// response before it is written downstream.
func (p *Pipeline) ShapeResponse(snap *config.Snapshot, chain Chain, resp http.Header) {
	if xform := EffectiveHeaderTransform(snap, chain); xform != nil {
		ApplyHeaderOps(resp, xform.Response)
	}
}
