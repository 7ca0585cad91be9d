package lb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func backendWithEndpoints(eps ...config.Endpoint) *config.Backend {
	return &config.Backend{Name: "be1", Endpoints: eps}
}

func TestPickRoundRobinCyclesThroughCandidates(t *testing.T) {
	s := NewSelector()
	backend := backendWithEndpoints(
		config.Endpoint{Address: "10.0.0.1", Port: 80},
		config.Endpoint{Address: "10.0.0.2", Port: 80},
	)

	var seen []string
	for i := 0; i < 4; i++ {
		ep, err := s.Pick(backend, "be1", AlgorithmRoundRobin, "")
		require.NoError(t, err)
		seen = append(seen, ep.Address)
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.2"}, seen)
}

func TestPickReturnsErrorWhenNoEndpoints(t *testing.T) {
	s := NewSelector()
	_, err := s.Pick(backendWithEndpoints(), "be1", AlgorithmRoundRobin, "")
	assert.Error(t, err)
}

func TestPickRingHashIsStableForSameKey(t *testing.T) {
	s := NewSelector()
	backend := backendWithEndpoints(
		config.Endpoint{Address: "10.0.0.1", Port: 80},
		config.Endpoint{Address: "10.0.0.2", Port: 80},
		config.Endpoint{Address: "10.0.0.3", Port: 80},
	)

	first, err := s.Pick(backend, "be1", AlgorithmRingHash, "user-42")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Pick(backend, "be1", AlgorithmRingHash, "user-42")
		require.NoError(t, err)
		assert.Equal(t, first.Address, again.Address)
	}
}

func TestRecordResultEjectsAfterConsecutiveFailures(t *testing.T) {
	s := NewSelector()
	backend := backendWithEndpoints(
		config.Endpoint{Address: "10.0.0.1", Port: 80},
		config.Endpoint{Address: "10.0.0.2", Port: 80},
	)
	failing := &backend.Endpoints[0]

	for i := 0; i < OutlierEjectionThreshold; i++ {
		s.RecordResult("be1", failing, false)
	}

	for i := 0; i < 10; i++ {
		ep, err := s.Pick(backend, "be1", AlgorithmRoundRobin, "")
		require.NoError(t, err)
		assert.NotEqual(t, "10.0.0.1", ep.Address, "ejected endpoint must not be selected while its cooldown is active")
	}
}

func TestRecordResultSuccessResetsFailureCount(t *testing.T) {
	s := NewSelector()
	backend := backendWithEndpoints(config.Endpoint{Address: "10.0.0.1", Port: 80})
	ep := &backend.Endpoints[0]

	for i := 0; i < OutlierEjectionThreshold-1; i++ {
		s.RecordResult("be1", ep, false)
	}
	s.RecordResult("be1", ep, true)

	key := endpointKey("be1", ep)
	s.mu.Lock()
	state := s.ejections[key]
	s.mu.Unlock()
	assert.Equal(t, 0, state.consecutiveFailures)
}

func TestHealthyEndpointsReadmitsOneProbeAfterCooldown(t *testing.T) {
	s := NewSelector()
	backend := backendWithEndpoints(config.Endpoint{Address: "10.0.0.1", Port: 80})
	ep := &backend.Endpoints[0]

	for i := 0; i < OutlierEjectionThreshold; i++ {
		s.RecordResult("be1", ep, false)
	}

	key := endpointKey("be1", ep)
	s.mu.Lock()
	s.ejections[key].ejectedUntil = time.Now().Add(-time.Second)
	s.mu.Unlock()

	candidates := s.healthyEndpoints(backend, "be1")
	require.Len(t, candidates, 1, "a single probe candidate should be re-admitted once its cooldown elapses")
}
