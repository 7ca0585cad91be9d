package config

import (
	"fmt"
	"sync/atomic"
)

// Snapshot is an immutable, reference-counted configuration graph. Every
// entity is owned by a typed arena (the slices below) and cross-entity
// references are stable indices into those arenas, never pointers — this
// keeps the graph acyclic at the Go value level even though the logical
// model (route -> policy -> backend -> policy) is cyclic.
//
// A Snapshot is never mutated after Validate succeeds; publishing a new
// configuration always builds a fresh Snapshot and swaps the Store's
// atomic pointer to it.
type Snapshot struct {
	Version int64

	Binds     []Bind
	Listeners []Listener
	Routes    []Route
	Rules     []Rule
	Backends  []Backend
	Policies  []Policy

	// byBindKey detects duplicate (address, port) binds during Build.
	byBindKey map[string]BindIndex
}

func (s *Snapshot) Bind(i BindIndex) *Bind         { return &s.Binds[i] }
func (s *Snapshot) Listener(i ListenerIndex) *Listener { return &s.Listeners[i] }
func (s *Snapshot) Route(i RouteIndex) *Route       { return &s.Routes[i] }
func (s *Snapshot) Rule(i RuleIndex) *Rule          { return &s.Rules[i] }
func (s *Snapshot) Backend(i BackendIndex) *Backend { return &s.Backends[i] }
func (s *Snapshot) Policy(i PolicyIndex) *Policy    { return &s.Policies[i] }

// Builder assembles a Snapshot incrementally and validates references
// before it is published. It is not safe for concurrent use; the Config
// Store serializes calls to apply().
type Builder struct {
	snap *Snapshot
	errs *ValidationErrors
}

// NewBuilder starts a fresh snapshot at the given version.
func NewBuilder(version int64) *Builder {
	return &Builder{
		snap: &Snapshot{
			Version:   version,
			byBindKey: map[string]BindIndex{},
		},
		errs: &ValidationErrors{},
	}
}

func (b *Builder) AddBind(bind Bind) (BindIndex, error) {
	key := fmt.Sprintf("%s:%d", bind.Address, bind.Port)
	if existing, ok := b.snap.byBindKey[key]; ok {
		return existing, fmt.Errorf("duplicate bind (address=%s, port=%d)", bind.Address, bind.Port)
	}
	idx := BindIndex(len(b.snap.Binds))
	b.snap.byBindKey[key] = idx
	b.snap.Binds = append(b.snap.Binds, bind)
	return idx, nil
}

func (b *Builder) AddListener(l Listener) ListenerIndex {
	idx := ListenerIndex(len(b.snap.Listeners))
	b.snap.Listeners = append(b.snap.Listeners, l)
	b.snap.Binds[l.Bind].Listeners = append(b.snap.Binds[l.Bind].Listeners, idx)
	return idx
}

func (b *Builder) AddBackend(be Backend) BackendIndex {
	idx := BackendIndex(len(b.snap.Backends))
	b.snap.Backends = append(b.snap.Backends, be)
	return idx
}

func (b *Builder) AddPolicy(p Policy) PolicyIndex {
	idx := PolicyIndex(len(b.snap.Policies))
	b.snap.Policies = append(b.snap.Policies, p)
	return idx
}

func (b *Builder) AddRule(r Rule) RuleIndex {
	idx := RuleIndex(len(b.snap.Rules))
	b.snap.Rules = append(b.snap.Rules, r)
	return idx
}

func (b *Builder) AddRoute(r Route) RouteIndex {
	idx := RouteIndex(len(b.snap.Routes))
	b.snap.Routes = append(b.snap.Routes, r)
	b.snap.Listeners[r.Listener].Routes = append(b.snap.Listeners[r.Listener].Routes, idx)
	return idx
}

// Build validates the assembled graph and returns the finished Snapshot, or the
// accumulated validation errors.
func (b *Builder) Build() (*Snapshot, error) {
	Validate(b.snap, b.errs)
	if b.errs.HasErrors() {
		return nil, b.errs
	}
	return b.snap, nil
}

// refCounted backs the handle-based lifecycle: a Snapshot is released only
// once every holder has dropped its handle.
type refCounted struct {
	snap *Snapshot
	refs int64
}

// SnapshotHandle is a reference-counted hold on a Snapshot. A request
// acquires one handle at accept time and releases it when the response
// record is emitted; the Snapshot it names is guaranteed not to be
// replaced out from under the in-flight request.
type SnapshotHandle struct {
	rc *refCounted
}

// Get returns the held Snapshot.
func (h SnapshotHandle) Get() *Snapshot { return h.rc.snap }

// Release drops this hold. Safe to call once per handle.
func (h SnapshotHandle) Release() {
	atomic.AddInt64(&h.rc.refs, -1)
}

func newHandle(s *Snapshot) SnapshotHandle {
	return SnapshotHandle{rc: &refCounted{snap: s, refs: 1}}
}

// acquire returns an additional handle to the same underlying snapshot,
// incrementing its reference count.
func (h SnapshotHandle) acquire() SnapshotHandle {
	atomic.AddInt64(&h.rc.refs, 1)
	return SnapshotHandle{rc: h.rc}
}
