// Package mcp implements the MCP half of the MCP/AI Adapter: parsing just
// enough of the JSON-RPC envelope to expose
// mcp.method/mcp.tool.name/mcp.session_id to CEL and telemetry, and forwarding
// streamed tool-call output without buffering it whole.
package mcp

import (
	"encoding/json"
	"fmt"
)

// Envelope is the subset of a JSON-RPC 2.0 request the adapter inspects.
// Unknown/extra fields are preserved via Raw so the request can be
// forwarded byte-for-byte once policies have run.
type Envelope struct {
	Method string
	ToolName string
	ID     json.RawMessage
	Raw    json.RawMessage
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type toolCallParams struct {
	Name string `json:"name"`
}

// Parse extracts method/tool name from a single JSON-RPC request frame.
func Parse(body []byte) (*Envelope, error) {
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parsing mcp json-rpc envelope: %w", err)
	}
	env := &Envelope{Method: req.Method, ID: req.ID, Raw: body}

	if req.Method == "tools/call" && len(req.Params) > 0 {
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err == nil {
			env.ToolName = params.Name
		}
	}
	return env, nil
}

// RedactedPayload returns a field-stripped view of the envelope suitable for
// telemetry: only the method and, for tools/call, the tool name (under
// "tool") survive, so tool call arguments (which may carry sensitive
// content) never reach the log record.
func RedactedPayload(env *Envelope) map[string]any {
	out := map[string]any{"method": env.Method}
	if env.ToolName != "" {
		out["tool"] = env.ToolName
	}
	return out
}

// SessionIDHeader is the header MCP streaming transports use to correlate
// requests within one session.
const SessionIDHeader = "Mcp-Session-Id"
