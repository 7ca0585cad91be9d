package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func documentWithRoutePolicies(policies []string, defs []config.PolicyDoc) *config.Document {
	return &config.Document{
		Binds:     []config.BindDoc{{Name: "web", Address: "0.0.0.0", Port: 8080, Protocol: "HTTP"}},
		Listeners: []config.ListenerDoc{{Name: "default", Bind: "web", Hostnames: []string{"*"}}},
		Backends: []config.BackendDoc{{
			Name: "svc1",
			Service: &struct {
				Hostname    string `json:"hostname"`
				Port        uint32 `json:"port"`
				AppProtocol string `json:"appProtocol"`
			}{Hostname: "svc1.internal", Port: 80},
		}},
		Routes: []config.RouteDoc{{
			Name:     "r1",
			Listener: "default",
			Path:     "/",
			PathType: "prefix",
			Policies: policies,
			Rules: []config.RuleDoc{{
				Name:     "rule1",
				Backends: []config.WeightedBackendDoc{{Backend: "svc1", Weight: 1}},
			}},
		}},
		Policies: defs,
	}
}

func routeChain(t *testing.T, doc *config.Document) (*config.Snapshot, Chain) {
	t.Helper()
	snap, err := config.BuildSnapshot(doc, 1)
	require.NoError(t, err)
	return snap, Chain{Listener: &snap.Listeners[0], Route: &snap.Routes[0]}
}

func TestPipelineAuthenticateAnonymousWhenNoSchemeAttached(t *testing.T) {
	snap, chain := routeChain(t, documentWithRoutePolicies(nil, nil))
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, outcome := p.Authenticate(context.Background(), snap, chain, req)
	assert.Nil(t, identity)
	assert.False(t, outcome.Deny)
}

func TestPipelineAuthenticateAPIKeySucceeds(t *testing.T) {
	doc := documentWithRoutePolicies([]string{"apikey"}, []config.PolicyDoc{{
		Name: "apikey", Kind: "APIKeyAuth", Scope: "route",
		Spec: map[string]any{"headerName": "X-Api-Key", "validKeys": map[string]any{"secret123": "svc-caller"}},
	}})
	snap, chain := routeChain(t, doc)
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Api-Key", "secret123")
	identity, outcome := p.Authenticate(context.Background(), snap, chain, req)
	require.False(t, outcome.Deny)
	require.NotNil(t, identity)
	assert.Equal(t, "svc-caller", identity.Subject)
}

func TestPipelineAuthenticateAPIKeyDeniesMissingKey(t *testing.T) {
	doc := documentWithRoutePolicies([]string{"apikey"}, []config.PolicyDoc{{
		Name: "apikey", Kind: "APIKeyAuth", Scope: "route",
		Spec: map[string]any{"headerName": "X-Api-Key", "validKeys": map[string]any{"secret123": "svc-caller"}},
	}})
	snap, chain := routeChain(t, doc)
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, outcome := p.Authenticate(context.Background(), snap, chain, req)
	assert.Nil(t, identity)
	assert.True(t, outcome.Deny)
	assert.Equal(t, http.StatusUnauthorized, outcome.StatusCode)
}

func TestPipelineAuthenticateBasicAuthSetsChallengeOnDeny(t *testing.T) {
	doc := documentWithRoutePolicies([]string{"basic"}, []config.PolicyDoc{{
		Name: "basic", Kind: "BasicAuth", Scope: "route",
		Spec: map[string]any{"realm": "internal"},
	}})
	snap, chain := routeChain(t, doc)
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, outcome := p.Authenticate(context.Background(), snap, chain, req)
	assert.True(t, outcome.Deny)
	assert.Equal(t, `Basic realm="internal"`, outcome.Challenge)
}

func TestPipelineShapeRequestRejectsCSRFViolation(t *testing.T) {
	doc := documentWithRoutePolicies([]string{"csrf"}, []config.PolicyDoc{{
		Name: "csrf", Kind: "CSRF", Scope: "route",
		Spec: map[string]any{},
	}})
	snap, chain := routeChain(t, doc)
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Host = "gw.example"
	req.Header.Set("Origin", "https://evil.example")
	outcome := p.ShapeRequest(snap, chain, req)
	assert.True(t, outcome.Deny)
	assert.Equal(t, http.StatusForbidden, outcome.StatusCode)
}

func TestPipelineShapeRequestAppliesHeaderTransform(t *testing.T) {
	doc := documentWithRoutePolicies([]string{"headers"}, []config.PolicyDoc{{
		Name: "headers", Kind: "HeaderTransform", Scope: "route",
		Spec: map[string]any{"request": []map[string]any{
			{"name": "x-injected", "value": "1", "op": "add_header"},
		}},
	}})
	snap, chain := routeChain(t, doc)
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	outcome := p.ShapeRequest(snap, chain, req)
	assert.False(t, outcome.Deny)
	assert.Equal(t, "1", req.Header.Get("x-injected"))
}

func TestPipelineRateLimitCheckAllowsWithoutPolicy(t *testing.T) {
	snap, chain := routeChain(t, documentWithRoutePolicies(nil, nil))
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	outcome := p.RateLimitCheck(context.Background(), snap, chain, "client-1")
	assert.False(t, outcome.Deny)
}

func TestPipelineRateLimitCheckDeniesOverBurst(t *testing.T) {
	doc := documentWithRoutePolicies([]string{"rl"}, []config.PolicyDoc{{
		Name: "rl", Kind: "RateLimit", Scope: "route",
		Spec: map[string]any{"kind": "local", "requestsPerUnit": 1, "burstSize": 1},
	}})
	snap, chain := routeChain(t, doc)
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	first := p.RateLimitCheck(context.Background(), snap, chain, "client-1")
	require.False(t, first.Deny)
	second := p.RateLimitCheck(context.Background(), snap, chain, "client-1")
	assert.True(t, second.Deny)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestPipelineShapeResponseAppliesHeaderTransform(t *testing.T) {
	doc := documentWithRoutePolicies([]string{"headers"}, []config.PolicyDoc{{
		Name: "headers", Kind: "HeaderTransform", Scope: "route",
		Spec: map[string]any{"response": []map[string]any{
			{"name": "x-response-injected", "value": "1", "op": "add_header"},
		}},
	}})
	snap, chain := routeChain(t, doc)
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	respHeaders := http.Header{}
	p.ShapeResponse(snap, chain, respHeaders)
	assert.Equal(t, "1", respHeaders.Get("x-response-injected"))
}

func TestPipelineAuthorizeAllowsWithoutExtAuthzOrGuard(t *testing.T) {
	snap, chain := routeChain(t, documentWithRoutePolicies(nil, nil))
	p := NewPipeline(NewJWTVerifier(nil), NewOAuth2Verifier(nil), NewRateLimiter(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	outcome := p.Authorize(context.Background(), snap, chain, req, nil)
	assert.False(t, outcome.Deny)
}
