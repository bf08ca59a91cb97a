package secrets

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store used in tests and as a fallback when no
// durable storage is configured. External changes are simulated with
// FireChange.
type MemStore struct {
	mu     sync.Mutex
	blobs  map[string]string
	nextID int
	subs   map[int]func()
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		blobs: make(map[string]string),
		subs:  make(map[int]func()),
	}
}

// Get returns the blob stored under key, or "" if absent.
func (s *MemStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[key], nil
}

// Set stores value under key.
func (s *MemStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = value
	return nil
}

// Delete removes key.
func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Subscribe registers fn for change notifications fired via FireChange.
func (s *MemStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// FireChange synchronously invokes every subscriber, simulating an
// external mutation of the store.
func (s *MemStore) FireChange() {
	s.mu.Lock()
	snapshot := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()

	for _, fn := range snapshot {
		fn()
	}
}
