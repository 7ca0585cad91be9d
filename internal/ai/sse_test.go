package ai

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func TestStreamForwarderForwardsFramesAndCapturesUsage(t *testing.T) {
	upstream := strings.NewReader(
		"data: {\"type\":\"content_block_delta\"}\n\n" +
			"data: {\"type\":\"message_delta\",\"usage\":{\"input_tokens\":4,\"output_tokens\":2}}\n\n" +
			"data: [DONE]\n\n",
	)
	rec := httptest.NewRecorder()
	f := &StreamForwarder{Provider: config.AIProviderAnthropic}

	err := f.Forward(rec, upstream)
	require.NoError(t, err)

	assert.Contains(t, rec.Body.String(), "content_block_delta")
	require.NotNil(t, f.Usage)
	assert.Equal(t, 4, f.Usage.InputTokens)
	assert.Equal(t, 2, f.Usage.OutputTokens)
	assert.Equal(t, 6, f.Usage.TotalTokens)
}

func TestStreamForwarderIgnoresFramesWithoutUsage(t *testing.T) {
	upstream := strings.NewReader("data: {\"type\":\"content_block_delta\"}\n\n")
	rec := httptest.NewRecorder()
	f := &StreamForwarder{Provider: config.AIProviderOpenAI}

	require.NoError(t, f.Forward(rec, upstream))
	assert.Nil(t, f.Usage)
}
