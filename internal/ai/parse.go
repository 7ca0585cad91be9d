// Package ai implements the AI half of the MCP/AI Adapter:
// parsing OpenAI-compatible and Anthropic-compatible request/response
// bodies enough to expose llm.provider/requestModel/responseModel and
// token accounting to CEL and telemetry, without buffering streamed
// responses end to end.
package ai

import (
	"encoding/json"
	"fmt"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// ChatRequest is the subset of an OpenAI-compatible /chat/completions (or
// Anthropic /v1/messages) request body the adapter needs.
type ChatRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages json.RawMessage `json:"messages"`
}

// Usage mirrors the token-accounting fields both providers report, under
// their own field names (normalized by normalizeUsage).
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ParseRequest extracts the fields needed for llm.* CEL/telemetry exposure
// from a raw request body. It never consumes the body destructively: the
// caller passes a copy when streaming is involved.
func ParseRequest(provider config.AIProvider, body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parsing %s request body: %w", provider, err)
	}
	return &req, nil
}

// openAIUsage and anthropicUsage mirror each provider's wire format for the
// non-streaming usage block.
type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type responseEnvelope struct {
	Model string          `json:"model"`
	Usage json.RawMessage `json:"usage"`
}

// ParseResponse extracts the response model name and, when present in a
// non-streaming body, the token usage. A streaming response has no usage
// block in the initial body; StreamForwarder picks usage up from the final
// frame instead.
func ParseResponse(provider config.AIProvider, body []byte) (responseModel string, usage *Usage, err error) {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("parsing %s response body: %w", provider, err)
	}
	if len(env.Usage) == 0 {
		return env.Model, nil, nil
	}
	u, err := normalizeUsage(provider, env.Usage)
	return env.Model, u, err
}

func normalizeUsage(provider config.AIProvider, raw json.RawMessage) (*Usage, error) {
	switch provider {
	case config.AIProviderAnthropic:
		var u anthropicUsage
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		return &Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, TotalTokens: u.InputTokens + u.OutputTokens}, nil
	default:
		var u openAIUsage
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		return &Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}, nil
	}
}
