package ai

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// ProviderClient relays a parsed chat request to the named backend's
// upstream AI provider using that provider's own SDK, so protocol
// differences (auth header shape, base URL conventions, error envelopes)
// are handled by code the provider maintains rather than re-implemented
// here.
type ProviderClient struct {
	openaiClients    map[string]openai.Client
	anthropicClients map[string]anthropic.Client
}

func NewProviderClient() *ProviderClient {
	return &ProviderClient{
		openaiClients:    map[string]openai.Client{},
		anthropicClients: map[string]anthropic.Client{},
	}
}

// clientFor lazily builds (and caches) an SDK client pointed at the
// backend's host override, so AI backends behind a private gateway or
// regional endpoint never hit the public provider URL.
func (c *ProviderClient) clientFor(backend *config.Backend, apiKey string) any {
	switch backend.AIProvider {
	case config.AIProviderAnthropic:
		if cl, ok := c.anthropicClients[backend.Name]; ok {
			return cl
		}
		opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
		if backend.AIHostOverride != "" {
			opts = append(opts, anthropicoption.WithBaseURL(backend.AIHostOverride))
		}
		cl := anthropic.NewClient(opts...)
		c.anthropicClients[backend.Name] = cl
		return cl
	default:
		if cl, ok := c.openaiClients[backend.Name]; ok {
			return cl
		}
		opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey)}
		if backend.AIHostOverride != "" {
			opts = append(opts, openaioption.WithBaseURL(backend.AIHostOverride))
		}
		cl := openai.NewClient(opts...)
		c.openaiClients[backend.Name] = cl
		return cl
	}
}

// ChatCompletion dispatches a non-streaming OpenAI-shaped request to
// backend's provider, returning the raw response body so the adapter's
// existing ParseResponse path handles token accounting uniformly.
func (c *ProviderClient) ChatCompletion(ctx context.Context, backend *config.Backend, apiKey string, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if backend.AIProvider == config.AIProviderAnthropic {
		return nil, fmt.Errorf("backend %q is an anthropic backend, use Message instead", backend.Name)
	}
	cl := c.clientFor(backend, apiKey).(openai.Client)
	return cl.Chat.Completions.New(ctx, params)
}

// Message dispatches a non-streaming Anthropic-shaped request.
func (c *ProviderClient) Message(ctx context.Context, backend *config.Backend, apiKey string, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if backend.AIProvider != config.AIProviderAnthropic {
		return nil, fmt.Errorf("backend %q is not an anthropic backend", backend.Name)
	}
	cl := c.clientFor(backend, apiKey).(anthropic.Client)
	return cl.Messages.New(ctx, params)
}
