// Package lb implements the Endpoint Selector, load balancer, and outlier
// ejection: picking a live Endpoint for a Backend and tracking its health
// across requests.
package lb

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// Algorithm selects among a Backend's healthy endpoints.
type Algorithm string

const (
	AlgorithmWeightedRandomP2C Algorithm = "weighted-p2c"
	AlgorithmRoundRobin        Algorithm = "round-robin"
	AlgorithmRingHash          Algorithm = "ring-hash"
)

// Selector tracks per-backend round-robin cursors and outlier-ejection state
// across requests; a Backend's Endpoints slice itself is swapped atomically by
// the resolver, so Selector never mutates it in place.
type Selector struct {
	mu        sync.Mutex
	rrCursor  map[string]int
	ejections map[string]*ejectionState
}

type ejectionState struct {
	consecutiveFailures int
	ejectedUntil        time.Time
	probing             bool
}

// OutlierEjectionThreshold and Cooldown implement "Outlier ejection".
const (
	OutlierEjectionThreshold = 5
	OutlierEjectionCooldown  = 30 * time.Second
)

func NewSelector() *Selector {
	return &Selector{rrCursor: map[string]int{}, ejections: map[string]*ejectionState{}}
}

// Pick chooses one endpoint of backend using algorithm. affinityKey is only
// consulted for AlgorithmRingHash.
func (s *Selector) Pick(backend *config.Backend, backendName string, algorithm Algorithm, affinityKey string) (*config.Endpoint, error) {
	candidates := s.healthyEndpoints(backend, backendName)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no healthy endpoints for backend %q", backendName)
	}

	switch algorithm {
	case AlgorithmRoundRobin:
		return s.pickRoundRobin(backendName, candidates), nil
	case AlgorithmRingHash:
		return pickRingHash(candidates, affinityKey)
	default:
		return pickWeightedP2C(candidates), nil
	}
}

// healthyEndpoints filters out ejected/unhealthy endpoints, re-admitting
// any whose cooldown has elapsed as a single probe candidate.
func (s *Selector) healthyEndpoints(backend *config.Backend, backendName string) []*config.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*config.Endpoint
	now := time.Now()
	for i := range backend.Endpoints {
		ep := &backend.Endpoints[i]
		key := endpointKey(backendName, ep)
		state, tracked := s.ejections[key]
		if !tracked || state.consecutiveFailures < OutlierEjectionThreshold {
			out = append(out, ep)
			continue
		}
		if now.Before(state.ejectedUntil) {
			continue
		}
		if !state.probing {
			state.probing = true
			out = append(out, ep) // single probe re-admission
		}
	}
	return out
}

// RecordResult updates outlier-ejection bookkeeping after an upstream
// attempt completes.
func (s *Selector) RecordResult(backendName string, ep *config.Endpoint, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := endpointKey(backendName, ep)
	state, ok := s.ejections[key]
	if !ok {
		state = &ejectionState{}
		s.ejections[key] = state
	}
	if success {
		state.consecutiveFailures = 0
		state.probing = false
		return
	}
	state.consecutiveFailures++
	state.probing = false
	if state.consecutiveFailures >= OutlierEjectionThreshold {
		state.ejectedUntil = time.Now().Add(OutlierEjectionCooldown)
	}
}

func endpointKey(backendName string, ep *config.Endpoint) string {
	return fmt.Sprintf("%s|%s:%d", backendName, ep.Address, ep.Port)
}

func (s *Selector) pickRoundRobin(backendName string, candidates []*config.Endpoint) *config.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.rrCursor[backendName] % len(candidates)
	s.rrCursor[backendName] = i + 1
	return candidates[i]
}

// pickWeightedP2C implements weighted power-of-two-choices: sample two
// candidates weighted by their configured Weight, pick the one with more
// weight (a proxy for "more capacity") when exactly two are sampled,
// degrading to the single candidate otherwise.
func pickWeightedP2C(candidates []*config.Endpoint) *config.Endpoint {
	if len(candidates) == 1 {
		return candidates[0]
	}
	a := weightedSample(candidates)
	b := weightedSample(candidates)
	if a.Weight >= b.Weight {
		return a
	}
	return b
}

func weightedSample(candidates []*config.Endpoint) *config.Endpoint {
	total := 0
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	r := rand.IntN(total)
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		if r < w {
			return c
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

// pickRingHash hashes affinityKey via mitchellh/hashstructure onto a sorted
// ring of candidate hashes, giving the same key the same endpoint across
// requests as long as the candidate set is stable (session affinity).
func pickRingHash(candidates []*config.Endpoint, affinityKey string) (*config.Endpoint, error) {
	keyHash, err := hashstructure.Hash(affinityKey, nil)
	if err != nil {
		return nil, fmt.Errorf("hashing ring-hash affinity key: %w", err)
	}

	type ringEntry struct {
		hash uint64
		ep   *config.Endpoint
	}
	ring := make([]ringEntry, 0, len(candidates))
	for _, c := range candidates {
		h, err := hashstructure.Hash(fmt.Sprintf("%s:%d", c.Address, c.Port), nil)
		if err != nil {
			return nil, err
		}
		ring = append(ring, ringEntry{hash: h, ep: c})
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	for _, e := range ring {
		if e.hash >= keyHash {
			return e.ep, nil
		}
	}
	return ring[0].ep, nil
}
