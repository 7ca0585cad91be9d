// Package jwks maintains the set of JSON Web Key Sets used to verify JWT
// policies, fetching them on a schedule and serving the latest copy to the
// policy pipeline without blocking the request path on network I/O.
package jwks

import (
	"encoding/json"
	"sync"

	"github.com/go-jose/go-jose/v4"
)

// cache stores the latest fetched JWKS per URI; put compares the old and
// new sets in serialized form to report whether the content changed.
type cache struct {
	mu   sync.Mutex
	jwks map[string]jose.JSONWebKeySet
}

func newCache() *cache {
	return &cache{jwks: make(map[string]jose.JSONWebKeySet)}
}

func (c *cache) get(uri string) (jose.JSONWebKeySet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.jwks[uri]
	return set, ok
}

// put stores set for uri and reports whether the content actually changed,
// so the fetcher only notifies subscribers of real updates.
func (c *cache) put(uri string, set jose.JSONWebKeySet) (bool, error) {
	serialized, err := json.Marshal(set)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.jwks[uri]; ok {
		if existingSerialized, err := json.Marshal(existing); err == nil && string(existingSerialized) == string(serialized) {
			return false, nil
		}
	}
	c.jwks[uri] = set
	return true, nil
}

func (c *cache) delete(uri string) {
	c.mu.Lock()
	delete(c.jwks, uri)
	c.mu.Unlock()
}
