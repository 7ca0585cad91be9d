package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/agentgateway/agentgateway-core/internal/ai"
	"github.com/agentgateway/agentgateway-core/internal/celengine"
	"github.com/agentgateway/agentgateway-core/internal/config"
	"github.com/agentgateway/agentgateway-core/internal/mcp"
	"github.com/agentgateway/agentgateway-core/internal/policy"
	"github.com/agentgateway/agentgateway-core/internal/telemetry"
)

// tryServeMCPWellKnown answers a /.well-known/oauth-protected-resource/<mount>
// request when mount names a route on listenerIdx that carries an
// MCPAuthentication policy, per the MCP Authorization spec's protected
// resource metadata convention. Reports whether it handled the request.
func (g *Gateway) tryServeMCPWellKnown(w http.ResponseWriter, r *http.Request, rec *telemetry.Record, snap *config.Snapshot, listenerIdx config.ListenerIndex, mount, host string) bool {
	for i := range snap.Routes {
		route := snap.Route(config.RouteIndex(i))
		if route.Listener != listenerIdx || route.Name != mount {
			continue
		}
		chain := policy.Chain{Listener: snap.Listener(listenerIdx), Route: route}
		if len(route.Rules) > 0 {
			rule := snap.Rule(route.Rules[0])
			chain.Rule = rule
			if len(rule.Backends) > 0 {
				chain.Backend = snap.Backend(rule.Backends[0].Backend)
			}
		}
		spec := policy.EffectiveMCPAuthentication(snap, chain)
		if spec == nil {
			continue
		}
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		resourceURL := scheme + "://" + host + "/" + strings.TrimPrefix(route.Match.Path, "/")
		mcp.ServeProtectedResourceMetadata(w, spec, resourceURL, spec.Scopes)
		rec.ResponseCode = http.StatusOK
		rec.RouteName = route.Name
		return true
	}
	rec.NoRouteReason = "no-mcp-protected-resource"
	g.respond(w, rec, http.StatusNotFound, "no protected resource at this mount")
	return true
}

// inspectAIRequest reads (and restores) a bounded prefix of an AI backend's
// request body to expose llm.* fields to CEL and telemetry before the
// guard/enrichment policies and the upstream dispatch run.
func (g *Gateway) inspectAIRequest(r *http.Request, backend *config.Backend, rec *telemetry.Record) (*ai.ChatRequest, []byte, *celengine.LLMView) {
	if r.Body == nil {
		return nil, nil, nil
	}
	limited := io.LimitReader(r.Body, maxInspectBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil || len(body) > maxInspectBodyBytes {
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		return nil, nil, nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	chatReq, err := ai.ParseRequest(backend.AIProvider, body)
	if err != nil {
		return nil, body, nil
	}
	rec.AIProvider = string(backend.AIProvider)
	rec.AIRequestModel = chatReq.Model
	return chatReq, body, &celengine.LLMView{
		Provider:     string(backend.AIProvider),
		RequestModel: chatReq.Model,
	}
}

// applyPromptPolicies runs the effective PromptGuard and PromptEnrichment
// chains against chatReq's message text, returning the (possibly rewritten)
// request body to dispatch upstream and whether a Reject guard matched.
func (g *Gateway) applyPromptPolicies(snap *config.Snapshot, chain policy.Chain, chatReq *ai.ChatRequest, body []byte) ([]byte, bool) {
	rules := policy.EffectivePromptGuard(snap, chain)
	if len(rules) > 0 && chatReq != nil {
		guardRules := make([]ai.GuardRule, len(rules))
		for i, r := range rules {
			guardRules[i] = ai.GuardRule{Category: ai.GuardCategory(r.Category), Action: ai.GuardAction(r.Action)}
		}
		masked, _, rejected := ai.Apply(guardRules, string(chatReq.Messages))
		if rejected {
			return body, true
		}
		if masked != string(chatReq.Messages) {
			if rewritten, err := spliceMessages(body, json.RawMessage(masked)); err == nil {
				body = rewritten
				chatReq.Messages = json.RawMessage(masked)
			}
		}
	}

	if enrich := policy.EffectivePromptEnrichment(snap, chain); enrich != nil && chatReq != nil {
		spec := ai.EnrichmentSpec{
			PrependMessages: toAIMessages(enrich.PrependMessages),
			AppendMessages:  toAIMessages(enrich.AppendMessages),
		}
		messages, err := ai.Enrich(chatReq, spec)
		if err == nil {
			if rewritten, err := spliceMessages(body, messages); err == nil {
				return rewritten, false
			}
		}
	}
	return body, false
}

// spliceMessages replaces only the top-level "messages" field of body,
// preserving every other request field (temperature, tools, max_tokens,
// and so on) untouched.
func spliceMessages(body []byte, messages json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["messages"] = messages
	return json.Marshal(fields)
}

func toAIMessages(in []config.AIMessageSpec) []ai.Message {
	out := make([]ai.Message, len(in))
	for i, m := range in {
		out[i] = ai.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// inspectMCPRequest parses a bounded prefix of an MCP backend's JSON-RPC
// request body to expose mcp.* fields to CEL and telemetry.
func (g *Gateway) inspectMCPRequest(r *http.Request, rec *telemetry.Record) *celengine.MCPView {
	if r.Body == nil {
		return nil
	}
	limited := io.LimitReader(r.Body, maxInspectBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil || len(body) > maxInspectBodyBytes {
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	env, err := mcp.Parse(body)
	if err != nil {
		return nil
	}
	sessionID := r.Header.Get(mcp.SessionIDHeader)
	rec.MCPMethod = env.Method
	rec.MCPToolName = env.ToolName
	rec.MCPSessionID = sessionID
	return &celengine.MCPView{Method: env.Method, ToolName: env.ToolName, SessionID: sessionID}
}

// countingWriter wraps an http.ResponseWriter to total bytes written while
// preserving Flusher delegation, so ai.StreamForwarder's flush-per-frame
// loop keeps working when passed a wrapped writer.
type countingWriter struct {
	http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// writeAIResponse copies an AI backend's upstream response downstream,
// forwarding SSE frames as they arrive for a streaming response and
// buffering a non-streaming one just long enough to parse its usage block,
// falling back to FallbackTokenCount when the provider omits it.
func writeAIResponse(w http.ResponseWriter, rec *telemetry.Record, backend *config.Backend, chatReq *ai.ChatRequest, resp *http.Response) {
	w.WriteHeader(resp.StatusCode)
	rec.ResponseCode = resp.StatusCode
	cw := &countingWriter{ResponseWriter: w}

	streaming := chatReq != nil && chatReq.Stream
	if streaming {
		forwarder := &ai.StreamForwarder{Provider: backend.AIProvider}
		_ = forwarder.Forward(cw, resp.Body)
		rec.BytesOut = cw.n
		if forwarder.Usage != nil {
			rec.AIInputTokens = forwarder.Usage.InputTokens
			rec.AIOutputTokens = forwarder.Usage.OutputTokens
			rec.AITotalTokens = forwarder.Usage.TotalTokens
		}
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	n, _ := cw.Write(body)
	rec.BytesOut = int64(n)

	model, usage, err := ai.ParseResponse(backend.AIProvider, body)
	if err != nil {
		return
	}
	rec.AIResponseModel = model
	if usage != nil {
		rec.AIInputTokens = usage.InputTokens
		rec.AIOutputTokens = usage.OutputTokens
		rec.AITotalTokens = usage.TotalTokens
	} else {
		rec.AITotalTokens = ai.FallbackTokenCount(backend.AIProvider, string(body))
	}
}

// isMCPWebSocketUpgrade reports whether r asks to upgrade to the WebSocket
// transport some MCP deployments use instead of Streamable HTTP.
func isMCPWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// relayMCPWebSocket upgrades the downstream connection, dials the selected
// MCP endpoint over WebSocket, and relays JSON-RPC frames bidirectionally
// until either side closes.
func relayMCPWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint *config.Endpoint, rec *telemetry.Record) error {
	downstream, err := mcp.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer downstream.Close()

	url := "ws://" + endpoint.Address + ":" + strconv.FormatUint(uint64(endpoint.Port), 10) + r.URL.RequestURI()
	upstream, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer upstream.Close()

	rec.ResponseCode = http.StatusSwitchingProtocols
	return mcp.RelayFrames(downstream, upstream)
}
