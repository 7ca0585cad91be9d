package ai

import (
	"strings"
	"unicode"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// FallbackTokenCount estimates token count when a provider's response omits
// a usage block. The estimate is provider-specific and documented rather
// than assumed at parity:
//
//   - OpenAI/Azure: ~4 characters per token for English text (the commonly
//     cited cl100k_base heuristic); used here as a cheap approximation
//     rather than shelling out to a real BPE tokenizer.
//   - Anthropic: counts whitespace-delimited words and multiplies by 1.3,
//     matching Anthropic's documented rule of thumb for its tokenizer.
//   - Others (Gemini, Vertex AI, Bedrock): falls back to the OpenAI
//     heuristic; none of their wire formats are in scope for a precise
//     per-provider estimate here.
func FallbackTokenCount(provider config.AIProvider, text string) int {
	switch provider {
	case config.AIProviderAnthropic:
		words := len(strings.FieldsFunc(text, unicode.IsSpace))
		return int(float64(words) * 1.3)
	default:
		if len(text) == 0 {
			return 0
		}
		return (len(text) + 3) / 4
	}
}
