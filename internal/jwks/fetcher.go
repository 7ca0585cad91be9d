package jwks

import (
	"container/heap"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/agentgateway/agentgateway-core/internal/logging"
)

var logger = logging.New("jwks")

// Source describes one JWKS endpoint a JWTProvider references.
type Source struct {
	URI       string
	TTL       time.Duration
	Deleted   bool
	TLSConfig *tls.Config
}

func (s Source) Equals(other Source) bool {
	return s.URI == other.URI && s.TTL == other.TTL && s.Deleted == other.Deleted &&
		reflect.DeepEqual(s.TLSConfig, other.TLSConfig)
}

type fetchAt struct {
	at           time.Time
	source       *Source
	retryAttempt int
}

type schedule []fetchAt

func (s schedule) Len() int           { return len(s) }
func (s schedule) Less(i, j int) bool { return s[i].at.Before(s[j].at) }
func (s schedule) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s *schedule) Push(x any)        { *s = append(*s, x.(fetchAt)) }
func (s *schedule) Pop() any {
	old := *s
	n := len(old)
	x := old[n-1]
	*s = old[0 : n-1]
	return x
}
func (s schedule) peek() *fetchAt {
	if len(s) == 0 {
		return nil
	}
	return &s[0]
}

// HTTPClient fetches a JWKS document from a URL; swappable for tests.
type HTTPClient interface {
	FetchJWKS(ctx context.Context, jwksURI string) (jose.JSONWebKeySet, error)
}

type defaultHTTPClient struct{ client *http.Client }

func (c *defaultHTTPClient) FetchJWKS(ctx context.Context, jwksURI string) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("building jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("unexpected status from jwks endpoint %s: %d", jwksURI, resp.StatusCode)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decoding jwks: %w", err)
	}
	return set, nil
}

// Fetcher periodically refreshes JWKS documents for every registered
// Source and notifies subscribers of updates, so JWT validation never
// blocks the request path on a network round trip.
type Fetcher struct {
	mu          sync.Mutex
	cache       *cache
	defaultHTTP HTTPClient
	sources     map[string]*Source
	sched       schedule
	subscribers []chan string
}

func NewFetcher() *Fetcher {
	f := &Fetcher{
		cache:       newCache(),
		defaultHTTP: &defaultHTTPClient{client: &http.Client{Timeout: 10 * time.Second}},
		sources:     make(map[string]*Source),
	}
	heap.Init(&f.sched)
	return f
}

// Get returns the most recently fetched JWKS for uri, if any.
func (f *Fetcher) Get(uri string) (jose.JSONWebKeySet, bool) {
	return f.cache.get(uri)
}

// Subscribe returns a channel on which the JWKS URI is sent every time its
// content changes (including deletion, after which Get reports no entry).
func (f *Fetcher) Subscribe() chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan string, 8)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// AddOrUpdate registers src for fetching, scheduling an immediate fetch.
func (f *Fetcher) AddOrUpdate(src Source) error {
	if _, err := url.Parse(src.URI); err != nil {
		return fmt.Errorf("parsing jwks url: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.sources[src.URI]; ok {
		existing.Deleted = true
	}
	added := src
	f.sources[src.URI] = &added
	heap.Push(&f.sched, fetchAt{at: time.Now(), source: &added})
	return nil
}

func (f *Fetcher) Remove(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sources[uri]; ok {
		delete(f.sources, uri)
		s.Deleted = true
		f.cache.delete(uri)
		for _, sub := range f.subscribers {
			sub <- uri
		}
	}
}

// Run drives the fetch schedule until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *Fetcher) tick(ctx context.Context) {
	var updated []string

	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		for _, uri := range updated {
			for _, sub := range f.subscribers {
				sub <- uri
			}
		}
	}()

	now := time.Now()
	for {
		next := f.sched.peek()
		if next == nil || next.at.After(now) {
			return
		}
		due := heap.Pop(&f.sched).(fetchAt)
		if due.source.Deleted {
			continue
		}

		set, err := f.fetch(ctx, due.source)
		if err != nil {
			logger.Error("jwks fetch failed", "uri", due.source.URI, "err", err)
			if due.retryAttempt < 5 {
				heap.Push(&f.sched, fetchAt{
					at:           now.Add(time.Duration(5*(due.retryAttempt+1)) * time.Second),
					source:       due.source,
					retryAttempt: due.retryAttempt + 1,
				})
			} else {
				heap.Push(&f.sched, fetchAt{at: now.Add(due.source.TTL), source: due.source})
			}
			continue
		}

		changed, err := f.cache.put(due.source.URI, set)
		if err != nil {
			logger.Error("jwks cache store failed", "uri", due.source.URI, "err", err)
			heap.Push(&f.sched, fetchAt{at: now.Add(5 * time.Second), source: due.source, retryAttempt: due.retryAttempt + 1})
			continue
		}
		heap.Push(&f.sched, fetchAt{at: now.Add(due.source.TTL), source: due.source})
		if changed {
			updated = append(updated, due.source.URI)
		}
	}
}

func (f *Fetcher) fetch(ctx context.Context, src *Source) (jose.JSONWebKeySet, error) {
	if src.TLSConfig != nil {
		c := &defaultHTTPClient{client: &http.Client{Transport: &http.Transport{TLSClientConfig: src.TLSConfig}, Timeout: 10 * time.Second}}
		return c.FetchJWKS(ctx, src.URI)
	}
	return f.defaultHTTP.FetchJWKS(ctx, src.URI)
}
