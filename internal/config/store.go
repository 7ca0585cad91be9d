package config

import (
	"sync"
	"sync/atomic"

	"github.com/agentgateway/agentgateway-core/internal/logging"
)

var logger = logging.New("config/store")

// Store is the Config Store: it accepts configuration documents, validates and
// publishes them as Snapshots, and serves lock-free reads to every downstream
// component. The only mutable state is the current-snapshot pointer; apply() is
// the single writer and is safe to call concurrently with itself (serialized
// internally) and with any number of concurrent current() readers.
type Store struct {
	current atomic.Pointer[SnapshotHandle]

	mu          sync.Mutex // serializes apply()
	nextVersion int64

	subMu sync.Mutex
	subs  []chan SnapshotHandle
}

// NewStore returns an empty Store with no published snapshot. current()
// returns the zero Snapshot until the first successful apply().
func NewStore() *Store {
	s := &Store{}
	empty := &Snapshot{Version: 0}
	h := newHandle(empty)
	s.current.Store(&h)
	return s
}

// ApplyResult is the outcome of Apply.
type ApplyResult struct {
	Accepted bool
	Errors   []ValidationError
}

// Apply validates the builder's assembled graph and, on success, publishes
// it as the new current Snapshot. On failure the previous Snapshot
// continues to serve unchanged.
func (s *Store) Apply(b *Builder) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextVersion++
	b.snap.Version = s.nextVersion

	snap, err := b.Build()
	if err != nil {
		s.nextVersion-- // the rejected version number is not consumed
		ve := err.(*ValidationErrors)
		logger.Warn("rejected configuration", "errors", len(ve.Errors))
		return ApplyResult{Accepted: false, Errors: ve.Errors}
	}

	h := newHandle(snap)
	s.current.Store(&h)
	logger.Info("published snapshot", "version", snap.Version, "binds", len(snap.Binds), "routes", len(snap.Routes))

	s.publish(h)
	return ApplyResult{Accepted: true}
}

// ApplyDocument parses and validates doc directly into the next version,
// without requiring the caller to drive a Builder by hand (the path used by the
// control-plane stream and local file reload, ).
func (s *Store) ApplyDocument(doc *Document) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextVersion++
	snap, err := BuildSnapshot(doc, s.nextVersion)
	if err != nil {
		s.nextVersion--
		if ve, ok := err.(*ValidationErrors); ok {
			logger.Warn("rejected configuration", "errors", len(ve.Errors))
			return ApplyResult{Accepted: false, Errors: ve.Errors}
		}
		logger.Warn("rejected configuration", "error", err)
		return ApplyResult{Accepted: false, Errors: []ValidationError{{Resource: "document", Reason: err.Error()}}}
	}

	h := newHandle(snap)
	s.current.Store(&h)
	logger.Info("published snapshot", "version", snap.Version, "binds", len(snap.Binds), "routes", len(snap.Routes))

	s.publish(h)
	return ApplyResult{Accepted: true}
}

// Current returns a handle to the current Snapshot. Readers should hold
// the handle for the lifetime of the request they're servicing and
// Release it when done; the handle's Snapshot never changes underneath
// them even if Apply publishes a newer one concurrently.
func (s *Store) Current() SnapshotHandle {
	return (*s.current.Load()).acquire()
}

// Subscribe returns a channel that receives a new handle on every
// successful Apply. The channel is buffered by 1; a slow subscriber sees
// only the most recent publication, never a backlog.
func (s *Store) Subscribe() <-chan SnapshotHandle {
	ch := make(chan SnapshotHandle, 1)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) publish(h SnapshotHandle) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- h.acquire():
		default:
			// drop the stale pending notification, replace with latest
			select {
			case <-ch:
			default:
			}
			ch <- h.acquire()
		}
	}
}

// Ready reports whether at least one snapshot has ever been accepted (admin
// surface GET /healthz/ready, ).
func (s *Store) Ready() bool {
	return (*s.current.Load()).Get().Version > 0
}
