package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestGetCreatesAndReusesEntryForSameKey(t *testing.T) {
	p := NewPool()
	key := PoolKey{Backend: "svc1", Endpoint: "10.0.0.1:80", Protocol: "http", TLSIdentity: ""}

	rt1, err := p.Get(key, Decision{Version: "1.1"}, nil, false)
	require.NoError(t, err)
	require.NotNil(t, rt1)

	rt2, err := p.Get(key, Decision{Version: "1.1"}, nil, false)
	require.NoError(t, err)
	assert.Same(t, rt1, rt2, "repeated Get for the same key must reuse the pooled RoundTripper")
}

func TestGetCreatesDistinctEntriesForDifferentKeys(t *testing.T) {
	p := NewPool()
	rt1, err := p.Get(PoolKey{Backend: "svc1", Endpoint: "10.0.0.1:80"}, Decision{Version: "1.1"}, nil, false)
	require.NoError(t, err)
	rt2, err := p.Get(PoolKey{Backend: "svc2", Endpoint: "10.0.0.2:80"}, Decision{Version: "1.1"}, nil, false)
	require.NoError(t, err)
	assert.NotSame(t, rt1, rt2)
}

func TestGetHTTP2WithoutTLSRequiresPriorKnowledge(t *testing.T) {
	p := NewPool()
	_, err := p.Get(PoolKey{Backend: "svc1", Endpoint: "10.0.0.1:80"}, Decision{Version: "2"}, nil, false)
	assert.Error(t, err)
}

func TestGetHTTP2H2CWithPriorKnowledgeSucceeds(t *testing.T) {
	p := NewPool()
	rt, err := p.Get(PoolKey{Backend: "svc1", Endpoint: "10.0.0.1:80"}, Decision{Version: "2"}, nil, true)
	require.NoError(t, err)
	_, ok := rt.(*http2.Transport)
	assert.True(t, ok)
}

func TestHealthCheckErrorsForUnknownKey(t *testing.T) {
	p := NewPool()
	err := p.HealthCheck(context.Background(), PoolKey{Backend: "svc1", Endpoint: "10.0.0.1:80"})
	assert.Error(t, err)
}

func TestHealthCheckNoopForHTTP1Entry(t *testing.T) {
	p := NewPool()
	key := PoolKey{Backend: "svc1", Endpoint: "10.0.0.1:80"}
	_, err := p.Get(key, Decision{Version: "1.1"}, nil, false)
	require.NoError(t, err)

	err = p.HealthCheck(context.Background(), key)
	assert.NoError(t, err)
}

func TestHealthCheckDialsForHTTP2Entry(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	p := NewPool()
	key := PoolKey{Backend: "svc1", Endpoint: listener.Addr().String()}
	_, err = p.Get(key, Decision{Version: "2"}, nil, true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, p.HealthCheck(ctx, key))
}
