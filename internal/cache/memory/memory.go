// Package memory provides an in-process cache store with lazy TTL expiry.
// It backs single-node deployments and tests; production workers use the
// redis store.
package memory

import (
	"context"
	"sync"
	"time"

	"meniscus/internal/cache"
)

type entry struct {
	val []byte
	exp time.Time // zero means no expiry
}

// Store is an in-memory cache keyspace. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the value for key, or cache.ErrMiss when absent or expired.
// Expired entries are removed on access.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	if !e.exp.IsZero() && s.now().After(e.exp) {
		delete(s.entries, key)
		return nil, cache.ErrMiss
	}
	return e.val, nil
}

// Set upserts the key. A ttl of 0 stores the entry without expiry.
func (s *Store) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{val: val}
	if ttl > 0 {
		e.exp = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Delete removes the key; absent keys are a no-op.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Clear removes every entry in the keyspace.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
	return nil
}
