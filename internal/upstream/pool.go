package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/agentgateway/agentgateway-core/internal/logging"
)

var logger = logging.New("upstream")

// MaxIdlePerPool bounds idle connections per HTTP/1.1 pool entry.
// MaxIdleTotal is a warning threshold on the number of pool entries; Get
// logs when it is reached but still adds the entry and evicts nothing.
const (
	MaxIdlePerPool = 32
	MaxIdleTotal   = 2048
)

// Pool owns one *http.Transport (or *http2.Transport) per PoolKey, so an
// idle HTTP/1.1 connection is never handed a request destined for a
// different protocol or TLS identity.
type Pool struct {
	mu      sync.Mutex
	entries map[PoolKey]*poolEntry
	total   int
}

type poolEntry struct {
	rt        http.RoundTripper
	h2Transport *http2.Transport // non-nil only for h2/h2c entries, used for the ping health check
}

func NewPool() *Pool {
	return &Pool{entries: map[PoolKey]*poolEntry{}}
}

// Get returns the RoundTripper for key, creating one bounded by decision
// and tlsConfig if this is the first request for that key.
func (p *Pool) Get(key PoolKey, decision Decision, tlsConfig *tls.Config, h2cPriorKnowledge bool) (http.RoundTripper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok {
		return e.rt, nil
	}
	if p.total >= MaxIdleTotal {
		logger.Warn("connection pool entry count at MaxIdleTotal; no entry is evicted", "total", p.total)
	}

	entry, err := newEntry(decision, tlsConfig, h2cPriorKnowledge)
	if err != nil {
		return nil, err
	}
	p.entries[key] = entry
	p.total++
	return entry.rt, nil
}

// HealthCheck reports whether key's endpoint is reachable. For an h2 entry
// it dials key.Endpoint over TCP with a 2s timeout and closes the
// connection; no HTTP/2 PING frame is sent on a pooled connection.
// HTTP/1.1 entries are not checked and return nil.
func (p *Pool) HealthCheck(ctx context.Context, key PoolKey) error {
	p.mu.Lock()
	entry, ok := p.entries[key]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pool entry for %+v", key)
	}
	if entry.h2Transport == nil {
		return nil
	}
	// http2.Transport has no exported ping-all-conns API; a fresh
	// connection attempt with a short dial timeout stands in for an
	// explicit PING frame here.
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", key.Endpoint)
	if err != nil {
		return fmt.Errorf("health check dial failed for %s: %w", key.Endpoint, err)
	}
	return conn.Close()
}

func newEntry(decision Decision, tlsConfig *tls.Config, h2cPriorKnowledge bool) (*poolEntry, error) {
	if decision.Version == "2" {
		if tlsConfig != nil {
			h2 := &http2.Transport{TLSClientConfig: tlsConfig}
			return &poolEntry{rt: h2, h2Transport: h2}, nil
		}
		if !h2cPriorKnowledge {
			return nil, fmt.Errorf("h2c requires prior knowledge to be explicitly enabled")
		}
		h2 := &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, network, addr)
			},
		}
		return &poolEntry{rt: h2, h2Transport: h2}, nil
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		MaxIdleConnsPerHost: MaxIdlePerPool,
		IdleConnTimeout:     90 * time.Second,
	}
	return &poolEntry{rt: transport}, nil
}
