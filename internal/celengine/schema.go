// Package celengine is the CEL Evaluator: a typed,
// timeout-bounded evaluator over a stable request/response schema, used
// by policy conditions, authorization guards, and transforms.
package celengine

import (
	"github.com/google/cel-go/cel"
)

// SchemaFields lists the top-level variables every compiled expression may
// reference. Each is untyped (dyn) since
// the concrete shape varies by protocol (MCP vs AI vs plain HTTP) and by
// which fields a given request populated.
var SchemaFields = []string{
	"request",
	"response",
	"source",
	"jwt",
	"llm",
	"mcp",
	"apiKey",
	"backend",
}

// newSchemaEnvOptions builds the cel.EnvOption list declaring every schema
// field as a dynamic value; the standard library comes from cel.NewEnv
// itself, not from this list.
func newSchemaEnvOptions() []cel.EnvOption {
	opts := make([]cel.EnvOption, 0, len(SchemaFields)+1)
	for _, f := range SchemaFields {
		opts = append(opts, cel.Variable(f, cel.DynType))
	}
	return opts
}

// Vars is the per-evaluation binding of schema fields to concrete values.
// Referencing a field left unset is an evaluation error (no such
// attribute), so expressions on out-of-scope fields (e.g. "llm" on a plain
// HTTP request) fail closed through Result.Err rather than panicking.
type Vars map[string]any

// RequestView is the "request" schema field: method, path, headers, and
// query, mirrored from the live *http.Request by the caller so the CEL
// sandbox never holds a reference to live connection state.
type RequestView struct {
	Method  string            `cel:"method"`
	Path    string            `cel:"path"`
	Host    string            `cel:"host"`
	Headers map[string]string `cel:"headers"`
	Query   map[string]string `cel:"query"`
}

// ResponseView is the "response" schema field.
type ResponseView struct {
	StatusCode int               `cel:"statusCode"`
	Headers    map[string]string `cel:"headers"`
}

// SourceView is the "source" schema field: downstream connection identity.
type SourceView struct {
	Address string `cel:"address"`
	SNI     string `cel:"sni"`
}

// JWTView is the "jwt" schema field: verified claims, present only after
// the Authentication phase has run.
type JWTView map[string]any

// LLMView is the "llm" schema field.
type LLMView struct {
	Provider      string `cel:"provider"`
	RequestModel  string `cel:"requestModel"`
	ResponseModel string `cel:"responseModel"`
	InputTokens   int    `cel:"inputTokens"`
	OutputTokens  int    `cel:"outputTokens"`
	TotalTokens   int    `cel:"totalTokens"`
}

// MCPView is the "mcp" schema field.
type MCPView struct {
	Method    string `cel:"method"`
	ToolName  string `cel:"toolName"`
	SessionID string `cel:"sessionId"`
}

// APIKeyView is the "apiKey" schema field.
type APIKeyView struct {
	Identity string `cel:"identity"`
	Present  bool   `cel:"present"`
}

// BackendView is the "backend" schema field.
type BackendView struct {
	Name string `cel:"name"`
	Kind string `cel:"kind"`
}

// ToVars converts the typed views into a Vars map keyed by schema field
// name. Any nil view is simply omitted.
func ToVars(request *RequestView, response *ResponseView, source *SourceView, jwt JWTView, llm *LLMView, mcp *MCPView, apiKey *APIKeyView, backend *BackendView) Vars {
	v := Vars{}
	if request != nil {
		v["request"] = requestToMap(request)
	}
	if response != nil {
		v["response"] = responseToMap(response)
	}
	if source != nil {
		v["source"] = map[string]any{"address": source.Address, "sni": source.SNI}
	}
	if jwt != nil {
		v["jwt"] = map[string]any(jwt)
	}
	if llm != nil {
		v["llm"] = map[string]any{
			"provider":      llm.Provider,
			"requestModel":  llm.RequestModel,
			"responseModel": llm.ResponseModel,
			"inputTokens":   llm.InputTokens,
			"outputTokens":  llm.OutputTokens,
			"totalTokens":   llm.TotalTokens,
		}
	}
	if mcp != nil {
		v["mcp"] = map[string]any{"method": mcp.Method, "toolName": mcp.ToolName, "sessionId": mcp.SessionID}
	}
	if apiKey != nil {
		v["apiKey"] = map[string]any{"identity": apiKey.Identity, "present": apiKey.Present}
	}
	if backend != nil {
		v["backend"] = map[string]any{"name": backend.Name, "kind": backend.Kind}
	}
	return v
}

func requestToMap(r *RequestView) map[string]any {
	return map[string]any{
		"method":  r.Method,
		"path":    r.Path,
		"host":    r.Host,
		"headers": stringMapToAny(r.Headers),
		"query":   stringMapToAny(r.Query),
	}
}

func responseToMap(r *ResponseView) map[string]any {
	return map[string]any{
		"statusCode": r.StatusCode,
		"headers":    stringMapToAny(r.Headers),
	}
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
