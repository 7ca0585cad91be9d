package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichPrependsAndAppendsMessages(t *testing.T) {
	req := &ChatRequest{Messages: json.RawMessage(`[{"role":"user","content":"hi"}]`)}
	spec := EnrichmentSpec{
		PrependMessages: []Message{{Role: "system", Content: "be terse"}},
		AppendMessages:  []Message{{Role: "user", Content: "and cite sources"}},
	}

	out, err := Enrich(req, spec)
	require.NoError(t, err)

	var messages []Message
	require.NoError(t, json.Unmarshal(out, &messages))
	require.Len(t, messages, 3)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "and cite sources", messages[2].Content)
}

func TestEnrichEmptyExistingMessages(t *testing.T) {
	req := &ChatRequest{}
	spec := EnrichmentSpec{PrependMessages: []Message{{Role: "system", Content: "be terse"}}}

	out, err := Enrich(req, spec)
	require.NoError(t, err)

	var messages []Message
	require.NoError(t, json.Unmarshal(out, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "be terse", messages[0].Content)
}

func TestEnrichRejectsNonArrayMessages(t *testing.T) {
	req := &ChatRequest{Messages: json.RawMessage(`{"not":"an array"}`)}
	_, err := Enrich(req, EnrichmentSpec{})
	assert.Error(t, err)
}
