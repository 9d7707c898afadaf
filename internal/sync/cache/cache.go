// Package cache holds the local, observable copy of one synced collection.
//
// The sync service is the only writer: it replaces the whole record set on each
// remote snapshot and toggles loading and error around subscription and writes.
// Readers take copies via Snapshot, Values or Get.
package cache

import (
	"cmp"
	"slices"
	"sync"
)

// State is a point-in-time copy of the cache.
type State[K cmp.Ordered, R any] struct {
	Records map[K]R
	Loading bool
	// Error is empty when there is no error.
	Error string
	// Version increases on every mutation.
	Version uint64
}

// Store is the in-memory, keyed record set for one domain.
type Store[K cmp.Ordered, R any] struct {
	mu       sync.RWMutex
	records  map[K]R
	loading  bool
	err      string
	version  uint64
	watchers map[uint64]chan struct{}
	nextID   uint64
}

// New returns an empty store with loading=false and no error.
func New[K cmp.Ordered, R any]() *Store[K, R] {
	return &Store[K, R]{
		records:  make(map[K]R),
		watchers: make(map[uint64]chan struct{}),
	}
}

// ReplaceAll swaps the record set for records, clears loading and clears error.
func (s *Store[K, R]) ReplaceAll(records map[K]R) {
	next := make(map[K]R, len(records))
	for k, v := range records {
		next[k] = v
	}
	s.mu.Lock()
	s.records = next
	s.loading = false
	s.err = ""
	s.changedLocked()
	s.mu.Unlock()
}

// SetLoading sets the loading flag.
func (s *Store[K, R]) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.changedLocked()
	s.mu.Unlock()
}

// SetError records msg; an empty msg clears the error.
func (s *Store[K, R]) SetError(msg string) {
	s.mu.Lock()
	s.err = msg
	s.changedLocked()
	s.mu.Unlock()
}

// Fail records msg and clears loading in one step.
func (s *Store[K, R]) Fail(msg string) {
	s.mu.Lock()
	s.err = msg
	s.loading = false
	s.changedLocked()
	s.mu.Unlock()
}

// Reset empties the store back to its initial state.
func (s *Store[K, R]) Reset() {
	s.mu.Lock()
	s.records = make(map[K]R)
	s.loading = false
	s.err = ""
	s.changedLocked()
	s.mu.Unlock()
}

// Snapshot returns a copy of the full state.
func (s *Store[K, R]) Snapshot() State[K, R] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make(map[K]R, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}
	return State[K, R]{Records: records, Loading: s.loading, Error: s.err, Version: s.version}
}

// Get returns the record stored under key.
func (s *Store[K, R]) Get(key K) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	return r, ok
}

// Values returns the records ordered by key.
func (s *Store[K, R]) Values() []R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]K, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]R, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k])
	}
	return out
}

// Any reports whether some record satisfies match.
func (s *Store[K, R]) Any(match func(R) bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if match(r) {
			return true
		}
	}
	return false
}

func (s *Store[K, R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Watch returns a channel that receives a signal after every mutation.
// Signals coalesce; read Snapshot for the current state. Call cancel to stop.
func (s *Store[K, R]) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store[K, R]) changedLocked() {
	s.version++
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
