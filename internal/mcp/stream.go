package mcp

import (
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/agentgateway/agentgateway-core/internal/logging"
)

var logger = logging.New("mcp")

// Upgrader configures the WebSocket transport some MCP deployments use
// instead of Streamable HTTP.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RelayFrames proxies JSON-RPC frames bidirectionally between a downstream
// and upstream MCP WebSocket connection without buffering a whole session,
// so long streaming tool calls never accumulate in memory.
func RelayFrames(downstream, upstream *websocket.Conn) error {
	errCh := make(chan error, 2)
	go pump(downstream, upstream, errCh)
	go pump(upstream, downstream, errCh)
	return <-errCh
}

func pump(from, to *websocket.Conn, errCh chan<- error) {
	for {
		msgType, data, err := from.ReadMessage()
		if err != nil {
			if err != io.EOF {
				logger.Debug("mcp relay closed", "err", err)
			}
			errCh <- err
			return
		}
		if err := to.WriteMessage(msgType, data); err != nil {
			errCh <- err
			return
		}
	}
}
