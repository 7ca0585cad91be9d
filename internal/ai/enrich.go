package ai

import (
	"encoding/json"
	"fmt"
)

// Enrich rewrites req's messages array, prepending and appending spec's
// fixed messages, and returns the updated JSON array ready to splice back
// into the request body.
func Enrich(req *ChatRequest, spec EnrichmentSpec) (json.RawMessage, error) {
	var existing []json.RawMessage
	if len(req.Messages) > 0 {
		if err := json.Unmarshal(req.Messages, &existing); err != nil {
			return nil, fmt.Errorf("enriching prompt: messages is not an array: %w", err)
		}
	}

	out := make([]json.RawMessage, 0, len(existing)+len(spec.PrependMessages)+len(spec.AppendMessages))
	for _, m := range spec.PrependMessages {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	out = append(out, existing...)
	for _, m := range spec.AppendMessages {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}
