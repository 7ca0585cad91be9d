package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
	"github.com/agentgateway/agentgateway-core/internal/telemetry"
)

func TestIsIdempotent(t *testing.T) {
	assert.True(t, isIdempotent(http.MethodGet))
	assert.True(t, isIdempotent(http.MethodPut))
	assert.True(t, isIdempotent(http.MethodDelete))
	assert.False(t, isIdempotent(http.MethodPost))
	assert.False(t, isIdempotent(http.MethodPatch))
}

func TestDefaultString(t *testing.T) {
	assert.Equal(t, "fallback", defaultString("", "fallback"))
	assert.Equal(t, "set", defaultString("set", "fallback"))
}

func TestMaxInt(t *testing.T) {
	assert.Equal(t, 5, maxInt(5, 3))
	assert.Equal(t, 5, maxInt(3, 5))
}

func TestLowerHeaders(t *testing.T) {
	h := http.Header{"X-Trace-Id": []string{"abc"}}
	out := lowerHeaders(h)
	assert.Equal(t, []string{"abc"}, out["x-trace-id"])
}

func TestJwtViewOnlyForJWTIdentity(t *testing.T) {
	assert.Nil(t, jwtView(nil))
	assert.Nil(t, jwtView(&config.Identity{Scheme: "basic"}))

	view := jwtView(&config.Identity{Scheme: "jwt", Claims: map[string]any{"sub": "user-1"}})
	require.NotNil(t, view)
	assert.Equal(t, "user-1", view["sub"])
}

func TestPickWeightedBackendSingleBackend(t *testing.T) {
	backends := []config.WeightedBackend{{Backend: config.BackendIndex(3), Weight: 1}}
	assert.Equal(t, config.BackendIndex(3), pickWeightedBackend(backends))
}

func TestPickWeightedBackendAlwaysReturnsAConfiguredBackend(t *testing.T) {
	backends := []config.WeightedBackend{
		{Backend: config.BackendIndex(0), Weight: 1},
		{Backend: config.BackendIndex(1), Weight: 9},
	}
	valid := map[config.BackendIndex]bool{0: true, 1: true}
	for i := 0; i < 50; i++ {
		got := pickWeightedBackend(backends)
		assert.True(t, valid[got], "pickWeightedBackend returned an index not in the configured set: %v", got)
	}
}

func TestRandIntNBounds(t *testing.T) {
	assert.Equal(t, 0, randIntN(0))
	for i := 0; i < 50; i++ {
		v := randIntN(7)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 7)
	}
}

func TestCorrelationIDIsUniqueAndHex(t *testing.T) {
	a := correlationID()
	b := correlationID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestApplyRewriteFiltersMutatesRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://gw.example/old-path", nil)
	rule := &config.Rule{Filters: []config.RuleFilter{
		{Kind: config.FilterRewriteHost, RewriteTo: "backend.internal"},
		{Kind: config.FilterRewritePath, RewriteTo: "/new-path"},
		{Kind: config.FilterAddHeader, HeaderName: "X-Added", HeaderValue: "1"},
		{Kind: config.FilterSetHeader, HeaderName: "X-Set", HeaderValue: "2"},
	}}
	r.Header.Set("X-Set", "stale")

	applyRewriteFilters(r, rule)

	assert.Equal(t, "backend.internal", r.Host)
	assert.Equal(t, "/new-path", r.URL.Path)
	assert.Equal(t, "1", r.Header.Get("X-Added"))
	assert.Equal(t, "2", r.Header.Get("X-Set"))
}

func TestApplyRewriteFiltersRemovesHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://gw.example/path", nil)
	r.Header.Set("X-Drop", "value")
	rule := &config.Rule{Filters: []config.RuleFilter{{Kind: config.FilterRemoveHeader, HeaderName: "X-Drop"}}}

	applyRewriteFilters(r, rule)

	assert.Empty(t, r.Header.Get("X-Drop"))
}

func TestApplyTerminalFiltersDirectResponse(t *testing.T) {
	g := &Gateway{}
	rec := &telemetry.Record{}
	rule := &config.Rule{Filters: []config.RuleFilter{
		{Kind: config.FilterDirectResponse, DirectResponseStatus: http.StatusTeapot, DirectResponseBody: []byte("no coffee")},
	}}
	w := httptest.NewRecorder()

	reason, handled := g.applyTerminalFilters(w, rec, rule)
	assert.True(t, handled)
	assert.Equal(t, "direct-response", reason)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "no coffee", w.Body.String())
}

func TestApplyTerminalFiltersRedirectDefaultsToFound(t *testing.T) {
	g := &Gateway{}
	rec := &telemetry.Record{}
	rule := &config.Rule{Filters: []config.RuleFilter{
		{Kind: config.FilterRedirect, RedirectHostname: "new.example", RedirectPath: "/landing"},
	}}
	w := httptest.NewRecorder()

	reason, handled := g.applyTerminalFilters(w, rec, rule)
	assert.True(t, handled)
	assert.Equal(t, "redirect", reason)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://new.example:0/landing", w.Header().Get("Location"))
}

func TestApplyTerminalFiltersNoTerminalFilter(t *testing.T) {
	g := &Gateway{}
	rec := &telemetry.Record{}
	rule := &config.Rule{Filters: []config.RuleFilter{{Kind: config.FilterAddHeader, HeaderName: "X", HeaderValue: "1"}}}
	w := httptest.NewRecorder()

	_, handled := g.applyTerminalFilters(w, rec, rule)
	assert.False(t, handled)
}
