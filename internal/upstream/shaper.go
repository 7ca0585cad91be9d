// Package upstream implements the Upstream Protocol Shaper:
// choosing the HTTP version and ALPN to use toward a backend, stripping
// hop-by-hop headers, and pooling connections per (backend, endpoint,
// protocol, TLS identity).
package upstream

import (
	"net/http"
	"strings"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// Decision is the outcome of shaping one request's upstream dispatch.
type Decision struct {
	Version string // "1.1" | "2"
	// ALPNConfigured is what policy/heuristics selected; ALPNNegotiated is filled
	// in by the caller after the TLS handshake completes. Reporting both avoids
	// conflating what was requested with what the backend actually negotiated.
	ALPNConfigured  string
	ALPNNegotiated  string
	H2CPriorKnowledge bool
}

// hopByHopHeaders are stripped before an HTTP/2 upstream request, since
// HTTP/2 forbids them on the wire.
var hopByHopHeaders = []string{
	"Connection", "Transfer-Encoding", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization", "TE", "Trailers", "Upgrade",
}

// Shape decides the upstream HTTP version and ALPN for one request,
// following the precedence explicit HTTPVersion policy > backend
// appProtocol > heuristics.
func Shape(httpVersionPolicy *config.HTTPVersionSpec, backend *config.Backend, downstreamIsTLS bool, downstreamVersion string, contentType string, backendUsesTLS bool, allowH2CPriorKnowledge bool) Decision {
	version := decideVersion(httpVersionPolicy, backend, downstreamIsTLS, downstreamVersion, contentType)

	d := Decision{Version: version}
	if backendUsesTLS {
		if version == "1.1" {
			d.ALPNConfigured = "http/1.1"
		} else {
			d.ALPNConfigured = "h2"
		}
	}
	if version == "2" && !backendUsesTLS {
		d.H2CPriorKnowledge = allowH2CPriorKnowledge
	}
	return d
}

func decideVersion(httpVersionPolicy *config.HTTPVersionSpec, backend *config.Backend, downstreamIsTLS bool, downstreamVersion string, contentType string) string {
	if httpVersionPolicy != nil && httpVersionPolicy.Version != "" {
		return httpVersionPolicy.Version
	}
	if backend != nil {
		switch backend.AppProtocol {
		case config.AppProtocolHTTP2, config.AppProtocolGRPC:
			return "2"
		case config.AppProtocolHTTP:
			return "1.1"
		}
	}
	if downstreamIsTLS {
		if strings.HasPrefix(contentType, "application/grpc") {
			return "2"
		}
		return "1.1"
	}
	if downstreamVersion == "2" {
		return "2"
	}
	return "1.1"
}

// StripHopByHop removes headers that must not cross an HTTP/2 upstream hop.
func StripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// PoolKey identifies one connection pool: distinct backends, endpoints,
// protocols, and TLS identities never share connections.
type PoolKey struct {
	Backend     string
	Endpoint    string
	Protocol    string
	TLSIdentity string
}
