package ai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// StreamForwarder forwards SSE frames from an upstream AI response to the
// downstream client as they arrive, never buffering the entire stream. It
// watches for the final usage frame to populate llm.totalTokens.
type StreamForwarder struct {
	Provider config.AIProvider
	Usage    *Usage
}

// Forward copies SSE frames from upstream to w, flushing after each frame, and
// extracts the final usage frame when present.
func (f *StreamForwarder) Forward(w http.ResponseWriter, upstream io.Reader) error {
	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var frame bytes.Buffer
	for scanner.Scan() {
		line := scanner.Bytes()
		frame.Write(line)
		frame.WriteByte('\n')

		if len(line) == 0 {
			f.observeFrame(frame.Bytes())
			if _, err := w.Write(frame.Bytes()); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			frame.Reset()
			continue
		}
	}
	if frame.Len() > 0 {
		if _, err := w.Write(frame.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (f *StreamForwarder) observeFrame(frame []byte) {
	const dataPrefix = "data: "
	idx := bytes.Index(frame, []byte(dataPrefix))
	if idx < 0 {
		return
	}
	payload := bytes.TrimSpace(frame[idx+len(dataPrefix):])
	if bytes.Equal(payload, []byte("[DONE]")) || len(payload) == 0 {
		return
	}

	var env struct {
		Usage json.RawMessage `json:"usage"`
		Type  string          `json:"type"` // anthropic: "message_delta" carries usage
	}
	if err := json.Unmarshal(payload, &env); err != nil || len(env.Usage) == 0 {
		return
	}
	if u, err := normalizeUsage(f.Provider, env.Usage); err == nil {
		f.Usage = u
	}
}
