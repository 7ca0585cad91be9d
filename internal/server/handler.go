// Package server wires the Listener & Matching Engine, Policy Pipeline,
// Endpoint Selector, and Upstream Protocol Shaper into the accept-to-emit
// request path ("accept -> C2 classify -> C3 request policies -> C5 pick
// endpoint -> C4 shape upstream and dispatch -> response -> C3 response
// policies -> C7 emit record").
package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentgateway/agentgateway-core/internal/ai"
	"github.com/agentgateway/agentgateway-core/internal/celengine"
	"github.com/agentgateway/agentgateway-core/internal/config"
	"github.com/agentgateway/agentgateway-core/internal/lb"
	"github.com/agentgateway/agentgateway-core/internal/logging"
	"github.com/agentgateway/agentgateway-core/internal/match"
	"github.com/agentgateway/agentgateway-core/internal/policy"
	"github.com/agentgateway/agentgateway-core/internal/telemetry"
	"github.com/agentgateway/agentgateway-core/internal/upstream"
)

// maxInspectBodyBytes bounds how much of an AI/MCP request body is read
// into memory for parsing (model name, tool name, token estimation); the
// rest streams through untouched.
const maxInspectBodyBytes = 1 << 20

// wellKnownMCPPrefix is the MCP Authorization spec's protected-resource
// metadata path, keyed by the route name that owns the protected mount.
const wellKnownMCPPrefix = "/.well-known/oauth-protected-resource/"

var logger = logging.New("server")

// Gateway is one bind's request handler: every Listener on that bind is
// dispatched through the same Gateway, distinguished by SNI/Host.
type Gateway struct {
	Store    *config.Store
	Pipeline *policy.Pipeline
	Selector *lb.Selector
	Picker   *lb.Picker
	Pool     *upstream.Pool
	Metrics  *telemetry.Metrics
	Budgets  *retryBudgets

	BindIndex config.BindIndex
}

// NewGateway wires the components shared across every request a bind
// serves.
func NewGateway(store *config.Store, pipeline *policy.Pipeline, selector *lb.Selector, picker *lb.Picker, pool *upstream.Pool, metrics *telemetry.Metrics, bind config.BindIndex) *Gateway {
	return &Gateway{
		Store: store, Pipeline: pipeline, Selector: selector, Picker: picker, Pool: pool, Metrics: metrics,
		Budgets: newRetryBudgets(), BindIndex: bind,
	}
}

// retryBudgets hands out one lb.Budget per backend name, since the budget
// is a property of the backend's traffic, not of any single request.
type retryBudgets struct {
	byBackend map[string]*lb.Budget
}

func newRetryBudgets() *retryBudgets { return &retryBudgets{byBackend: map[string]*lb.Budget{}} }

func (r *retryBudgets) get(backend string, spec *config.RetrySpec) *lb.Budget {
	if b, ok := r.byBackend[backend]; ok {
		return b
	}
	ratio, min := 0.1, 10
	if spec != nil {
		if spec.BudgetRatio > 0 {
			ratio = spec.BudgetRatio
		}
		if spec.BudgetMinConcurrent > 0 {
			min = spec.BudgetMinConcurrent
		}
	}
	b := lb.NewBudget(ratio, min)
	r.byBackend[backend] = b
	return b
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handle := g.Store.Current()
	defer handle.Release()
	snap := handle.Get()

	rc := config.NewRequestContext(handle, correlationID())
	ctx, span := telemetry.StartRequestSpan(r.Context(), "")
	defer span.End()

	rec := &telemetry.Record{CorrelationID: rc.CorrelationID}
	defer func() {
		rec.Timing = rc.Timing
		rec.RetryCount = rc.RetryCount
		telemetry.AnnotateRecord(span, rec)
		telemetry.Emit(g.Metrics, rec)
	}()

	bind := snap.Bind(g.BindIndex)
	table := match.BuildHostTable(snap, bind.Listeners)
	host := r.Host
	if r.TLS != nil && r.TLS.ServerName != "" {
		host = r.TLS.ServerName
	}
	listenerIdx, ok := table.Lookup(host)
	if !ok {
		g.noRoute(w, rec)
		return
	}

	if mount, isWellKnown := strings.CutPrefix(r.URL.Path, wellKnownMCPPrefix); isWellKnown {
		g.tryServeMCPWellKnown(w, r, rec, snap, listenerIdx, mount, host)
		return
	}

	normalizedPath, err := match.NormalizePath(r.URL.Path)
	if err != nil {
		rec.NoRouteReason = "invalid-path"
		g.respond(w, rec, http.StatusBadRequest, err.Error())
		return
	}

	matchReq := &match.Request{
		Host:    host,
		Path:    normalizedPath,
		Method:  r.Method,
		Headers: lowerHeaders(r.Header),
		Query:   r.URL.Query(),
	}
	result, ok := match.MatchRoutes(snap, listenerIdx, matchReq)
	if !ok {
		g.noRoute(w, rec)
		return
	}
	rc.Timing.RouteMatched = time.Now()
	rc.Route, rc.Rule, rc.HasRoute = result.Route, result.Rule, true

	route := snap.Route(result.Route)
	rule := snap.Rule(result.Rule)
	rec.RouteName = route.Name
	span.SetName("agentgateway.request." + route.Name)

	if _, handled := g.applyTerminalFilters(w, rec, rule); handled {
		return
	}
	applyRewriteFilters(r, rule)

	if len(rule.Backends) == 0 {
		g.respond(w, rec, http.StatusServiceUnavailable, "no backend configured for matched rule")
		return
	}
	backendIdx := pickWeightedBackend(rule.Backends)
	backend := snap.Backend(backendIdx)
	rec.BackendName = backend.Name

	chain := policy.Chain{Listener: snap.Listener(listenerIdx), Route: route, Rule: rule, Backend: backend}

	identity, outcome := g.Pipeline.Authenticate(ctx, snap, chain, r)
	if outcome.Deny {
		g.denyWith(w, rec, outcome)
		return
	}
	rc.Identity = identity
	if identity != nil {
		rec.IdentityScheme, rec.IdentitySubject = identity.Scheme, identity.Subject
	}

	var chatReq *ai.ChatRequest
	var aiBody []byte
	var llmView *celengine.LLMView
	var mcpView *celengine.MCPView
	switch backend.Kind {
	case config.BackendAI:
		chatReq, aiBody, llmView = g.inspectAIRequest(r, backend, rec)
	case config.BackendMCP:
		if !isMCPWebSocketUpgrade(r) {
			mcpView = g.inspectMCPRequest(r, rec)
		}
	}

	vars := celengine.ToVars(
		&celengine.RequestView{Method: r.Method, Path: normalizedPath, Host: host},
		nil, nil, jwtView(identity), llmView, mcpView, nil,
		&celengine.BackendView{Name: backend.Name, Kind: string(backend.Kind)},
	)
	if outcome = g.Pipeline.Authorize(ctx, snap, chain, r, vars); outcome.Deny {
		g.denyWith(w, rec, outcome)
		return
	}

	if outcome = g.Pipeline.ShapeRequest(snap, chain, r); outcome.Deny {
		g.denyWith(w, rec, outcome)
		return
	}
	if outcome.Terminal {
		for k, vals := range outcome.Headers {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		rec.ResponseCode = outcome.StatusCode
		w.WriteHeader(outcome.StatusCode)
		return
	}
	corsHeaders := outcome.Headers

	rateLimitKey := route.Name
	if identity != nil {
		rateLimitKey = identity.Subject
	}
	if outcome = g.Pipeline.RateLimitCheck(ctx, snap, chain, rateLimitKey); outcome.Deny {
		w.Header().Set("Retry-After", "1")
		g.denyWith(w, rec, outcome)
		return
	}

	if backend.Kind == config.BackendMCP && isMCPWebSocketUpgrade(r) {
		endpoint, err := g.pickEndpoint(ctx, snap, chain, backend, rateLimitKey)
		if err != nil {
			g.respond(w, rec, http.StatusBadGateway, err.Error())
			return
		}
		if err := relayMCPWebSocket(ctx, w, r, endpoint, rec); err != nil {
			logger.Debug("mcp websocket relay ended", "err", err)
		}
		rc.Timing.Complete = time.Now()
		return
	}

	var bodyBuf []byte
	if chatReq != nil {
		rewritten, rejected := g.applyPromptPolicies(snap, chain, chatReq, aiBody)
		if rejected {
			g.respond(w, rec, http.StatusForbidden, "request blocked by prompt guard policy")
			return
		}
		bodyBuf = rewritten
	} else if aiBody != nil {
		bodyBuf = aiBody
	}

	retrySpec := policy.EffectiveRetry(snap, chain)
	if bodyBuf == nil && retrySpec != nil && retrySpec.MaxBufferedBodyBytes > 0 && r.Body != nil {
		limited := io.LimitReader(r.Body, int64(retrySpec.MaxBufferedBodyBytes)+1)
		buf, err := io.ReadAll(limited)
		if err == nil && len(buf) <= retrySpec.MaxBufferedBodyBytes {
			bodyBuf = buf
		}
	}

	rc.Timing.UpstreamConnected = time.Now()
	upstreamResp, decision, err := g.dispatch(ctx, r, snap, chain, backend, retrySpec, bodyBuf, rc, rateLimitKey)
	if err != nil {
		g.respond(w, rec, http.StatusBadGateway, err.Error())
		return
	}
	defer upstreamResp.Body.Close()

	if upstreamResp.TLS != nil {
		decision.ALPNNegotiated = upstreamResp.TLS.NegotiatedProtocol
	}
	rec.UpstreamHTTPVersion = decision.Version
	rec.UpstreamALPNConfigured = decision.ALPNConfigured
	rec.UpstreamALPNNegotiated = decision.ALPNNegotiated
	rc.Timing.FirstByte = time.Now()

	upstream.StripHopByHop(upstreamResp.Header)
	g.Pipeline.ShapeResponse(snap, chain, upstreamResp.Header)
	for k, vals := range upstreamResp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	for k, vals := range corsHeaders {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}

	if backend.Kind == config.BackendAI {
		writeAIResponse(w, rec, backend, chatReq, upstreamResp)
		rc.Timing.Complete = time.Now()
		return
	}

	w.WriteHeader(upstreamResp.StatusCode)
	n, _ := io.Copy(w, upstreamResp.Body)
	rec.BytesOut = n
	rec.ResponseCode = upstreamResp.StatusCode
	rc.Timing.Complete = time.Now()
}

// dispatch shapes and sends the upstream request, applying the effective
// Retry policy's budget and classification.
func (g *Gateway) dispatch(ctx context.Context, r *http.Request, snap *config.Snapshot, chain policy.Chain, backend *config.Backend, retrySpec *config.RetrySpec, bodyBuf []byte, rc *config.RequestContext, affinityKey string) (*http.Response, upstream.Decision, error) {
	httpVersionPolicy := policy.EffectiveHTTPVersion(snap, chain)
	decision := upstream.Shape(httpVersionPolicy, backend, r.TLS != nil, r.Proto, r.Header.Get("Content-Type"), false, false)

	idempotent := isIdempotent(r.Method)
	budget := g.Budgets.get(backend.Name, retrySpec)

	var resp *http.Response
	attempts := 0
	attemptFn := func(ctx context.Context, attempt int) (int, bool, error) {
		attempts = attempt
		endpoint, err := g.pickEndpoint(ctx, snap, chain, backend, affinityKey)
		if err != nil {
			return 0, false, err
		}
		rc.SelectedEndpoint = endpoint

		attemptCtx, span := telemetry.StartUpstreamAttemptSpan(ctx, backend.Name, attempt)
		defer span.End()

		upReq, err := buildUpstreamRequest(attemptCtx, r, backend, endpoint, decision, bodyBuf)
		if err != nil {
			return 0, false, err
		}

		rt, err := g.Pool.Get(upstream.PoolKey{Backend: backend.Name, Endpoint: endpoint.Address, Protocol: decision.Version}, decision, nil, decision.H2CPriorKnowledge)
		if err != nil {
			g.Selector.RecordResult(backend.Name, endpoint, false)
			return 0, retrySpec != nil, err
		}

		upResp, err := rt.RoundTrip(upReq)
		if err != nil {
			g.Selector.RecordResult(backend.Name, endpoint, false)
			return 0, retrySpec != nil, err
		}
		g.Selector.RecordResult(backend.Name, endpoint, upResp.StatusCode < 500)
		retryable := retrySpec != nil && lb.IsRetryableStatus(retrySpec, upResp.StatusCode)
		if retryable {
			upResp.Body.Close()
			return upResp.StatusCode, true, nil
		}
		resp = upResp
		return upResp.StatusCode, false, nil
	}

	_, err := lb.Run(ctx, retrySpec, budget, idempotent, bodyBuf != nil, attemptFn)
	rc.RetryCount = maxInt(0, attempts-1)
	if err != nil && resp == nil {
		return nil, decision, err
	}
	return resp, decision, nil
}

func (g *Gateway) pickEndpoint(ctx context.Context, snap *config.Snapshot, chain policy.Chain, backend *config.Backend, affinityKey string) (*config.Endpoint, error) {
	if spec := policy.EffectiveInferenceRouting(snap, chain); spec != nil && g.Picker != nil {
		result, err := g.Picker.Pick(ctx, spec, backend.Endpoints)
		if err == nil && result.Endpoint != nil {
			return result.Endpoint, nil
		}
	}
	return g.Selector.Pick(backend, backend.Name, lb.AlgorithmWeightedRandomP2C, affinityKey)
}

func buildUpstreamRequest(ctx context.Context, r *http.Request, backend *config.Backend, endpoint *config.Endpoint, decision upstream.Decision, bodyBuf []byte) (*http.Request, error) {
	scheme := "http"
	if decision.ALPNConfigured != "" {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, endpoint.Address, endpoint.Port, r.URL.RequestURI())

	var body io.Reader
	if bodyBuf != nil {
		body = bytes.NewReader(bodyBuf)
	} else {
		body = r.Body
	}

	upReq, err := http.NewRequestWithContext(ctx, r.Method, url, body)
	if err != nil {
		return nil, err
	}
	upReq.Header = r.Header.Clone()
	upstream.StripHopByHop(upReq.Header)
	upReq.Host = backend.Hostname
	if upReq.Host == "" {
		upReq.Host = r.Host
	}
	return upReq, nil
}

func (g *Gateway) applyTerminalFilters(w http.ResponseWriter, rec *telemetry.Record, rule *config.Rule) (string, bool) {
	for _, f := range rule.Filters {
		switch f.Kind {
		case config.FilterDirectResponse:
			rec.ResponseCode = f.DirectResponseStatus
			w.WriteHeader(f.DirectResponseStatus)
			_, _ = w.Write(f.DirectResponseBody)
			return "direct-response", true
		case config.FilterRedirect:
			loc := fmt.Sprintf("%s://%s:%d%s", defaultString(f.RedirectScheme, "https"), f.RedirectHostname, f.RedirectPort, f.RedirectPath)
			status := f.RedirectStatusCode
			if status == 0 {
				status = http.StatusFound
			}
			w.Header().Set("Location", loc)
			rec.ResponseCode = status
			w.WriteHeader(status)
			return "redirect", true
		}
	}
	return "", false
}

// applyRewriteFilters applies the non-terminal request-side RuleFilters
// (host/path rewrite, header add/set/remove) before the backend is
// dispatched. Mirror is recorded on the Rule but not yet fired as a
// fire-and-forget shadow request.
func applyRewriteFilters(r *http.Request, rule *config.Rule) {
	for _, f := range rule.Filters {
		switch f.Kind {
		case config.FilterRewriteHost:
			r.Host = f.RewriteTo
		case config.FilterRewritePath:
			r.URL.Path = f.RewriteTo
		case config.FilterAddHeader:
			r.Header.Add(f.HeaderName, f.HeaderValue)
		case config.FilterSetHeader:
			r.Header.Set(f.HeaderName, f.HeaderValue)
		case config.FilterRemoveHeader:
			r.Header.Del(f.HeaderName)
		}
	}
}

func (g *Gateway) noRoute(w http.ResponseWriter, rec *telemetry.Record) {
	rec.NoRouteReason = match.NoRouteReason
	g.respond(w, rec, http.StatusNotFound, "no matching route")
}

func (g *Gateway) denyWith(w http.ResponseWriter, rec *telemetry.Record, outcome policy.Outcome) {
	if outcome.Challenge != "" {
		w.Header().Set("WWW-Authenticate", outcome.Challenge)
	}
	g.respond(w, rec, outcome.StatusCode, outcome.Reason)
}

func (g *Gateway) respond(w http.ResponseWriter, rec *telemetry.Record, status int, reason string) {
	rec.ResponseCode = status
	http.Error(w, reason, status)
}

func jwtView(identity *config.Identity) celengine.JWTView {
	if identity == nil || identity.Scheme != "jwt" {
		return nil
	}
	return celengine.JWTView(identity.Claims)
}

func lowerHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

func defaultString(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func pickWeightedBackend(backends []config.WeightedBackend) config.BackendIndex {
	if len(backends) == 1 {
		return backends[0].Backend
	}
	total := 0
	for _, b := range backends {
		w := b.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	target := randIntN(total)
	for _, b := range backends {
		w := b.Weight
		if w <= 0 {
			w = 1
		}
		if target < w {
			return b.Backend
		}
		target -= w
	}
	return backends[len(backends)-1].Backend
}

func randIntN(n int) int {
	if n <= 0 {
		return 0
	}
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	v := int64(0)
	for _, b := range buf {
		v = v<<8 | int64(b)
	}
	if v < 0 {
		v = -v
	}
	return int(v % int64(n))
}

func correlationID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
