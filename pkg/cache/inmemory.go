// cache/inmemory.go
package cache

import (
	"context"
	"sync"
)

// InMemoryIDSet is a thread-safe, in-memory IDSet. It satisfies the IDSet interface.
type InMemoryIDSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewInMemoryIDSet creates a new, empty in-memory set.
func NewInMemoryIDSet() *InMemoryIDSet {
	return &InMemoryIDSet{
		ids: make(map[string]struct{}),
	}
}

// NewInMemoryIDSetFactory returns an IDSetFactory producing independent in-memory sets.
func NewInMemoryIDSetFactory() IDSetFactory {
	return func(_ context.Context, _ string) (IDSet, error) {
		return NewInMemoryIDSet(), nil
	}
}

// Contains reports whether id is in the set.
func (s *InMemoryIDSet) Contains(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}

// Add inserts id into the set.
func (s *InMemoryIDSet) Add(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
	return nil
}

// Len returns the number of ids in the set.
func (s *InMemoryIDSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Close drops the set's contents.
func (s *InMemoryIDSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
	return nil
}
