// Package state holds the last-known resolver configuration of the active
// interface.
package state

import (
	"sync"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// Store is a single mutable cell guarded by a mutex. Only the reconciler
// writes to it; everything else reads or subscribes.
type Store struct {
	mu      sync.RWMutex
	current backend.State
	loaded  bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(backend.State)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(backend.State))}
}

// Get returns the current state and whether one has been written yet.
func (s *Store) Get() (backend.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current), s.loaded
}

// Snapshot returns a pointer to a copy of the current state, or nil before
// the first write. Suited for catalog.Identify.
func (s *Store) Snapshot() *backend.State {
	st, ok := s.Get()
	if !ok {
		return nil
	}
	return &st
}

// Set replaces the stored state wholesale and notifies subscribers.
func (s *Store) Set(st backend.State) {
	st = st.Normalize()

	s.mu.Lock()
	s.current = st
	s.loaded = true
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(backend.State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(clone(st))
	}
}

// Subscribe registers fn to be called after each write. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(backend.State)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func clone(st backend.State) backend.State {
	if st.Servers != nil {
		st.Servers = append([]string(nil), st.Servers...)
	}
	return st
}
