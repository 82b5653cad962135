// Package correlation links the entry and return hooks of one logical call. Store maps a call's
// key to its in-flight value with a hard capacity; Bindings maps an outbound header container to
// the key of the call that owns it and evicts least recently used entries.
package correlation

import (
	"errors"
	"fmt"
	"sync"
)

// Key identifies one logical call: the address of its context in the target, which is the same
// on entry and return and distinct between concurrently in-flight calls.
type Key uint64

var (
	// ErrExists is returned by Insert when the key is already tracked.
	ErrExists = errors.New("key already tracked")
	// ErrFull is returned by Insert when the store is at capacity.
	ErrFull = errors.New("correlation store full")
)

// Store is a capacity-bounded map with no implicit eviction.
type Store[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]*V
}

// NewStore returns an empty store holding at most capacity entries.
func NewStore[V any](capacity int) *Store[V] {
	return &Store[V]{capacity: capacity, entries: make(map[Key]*V, capacity)}
}

// Insert stores a copy of v under key. The first writer wins: an existing entry is never
// overwritten.
func (s *Store[V]) Insert(key Key, v *V) (fault error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("%w: %#x", ErrExists, uint64(key))
	}

	if len(s.entries) >= s.capacity {
		return fmt.Errorf("%w (%d entries)", ErrFull, s.capacity)
	}

	c := *v
	s.entries[key] = &c

	return nil
}

// Lookup returns the stored value. The pointer stays owned by the store; the call that
// inserted key is its only writer until Delete.
func (s *Store[V]) Lookup(key Key) (value *V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[key]

	return v, ok
}

// Contains reports whether key is tracked.
func (s *Store[V]) Contains(key Key) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store[V]) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// Len returns the number of tracked entries.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
