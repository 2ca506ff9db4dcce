package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemorySessionStore implements SessionStore using ttlcache.
type MemorySessionStore struct {
	entries  *ttlcache.Cache[string, *SessionEntry]
	counters *ttlcache.Cache[string, int64]
	mu       sync.Mutex
}

// NewMemorySessionStore creates an in-process store with automatic cleanup.
func NewMemorySessionStore() *MemorySessionStore {
	entries := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *SessionEntry](),
	)
	counters := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, int64](),
	)

	go entries.Start()
	go counters.Start()

	return &MemorySessionStore{entries: entries, counters: counters}
}

// Set implements SessionStore.Set.
func (s *MemorySessionStore) Set(_ context.Context, entry *SessionEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	stored := *entry
	stored.TokenValue = ""
	s.entries.Set(HashToken(entry.TokenValue), &stored, ttl)
	return nil
}

// Get implements SessionStore.Get.
func (s *MemorySessionStore) Get(_ context.Context, token string) (*SessionEntry, error) {
	item := s.entries.Get(HashToken(token))
	if item == nil {
		return nil, ErrNotFound
	}
	entry := *item.Value()
	entry.TokenValue = token
	return &entry, nil
}

// Delete implements SessionStore.Delete.
func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.entries.Delete(HashToken(token))
	return nil
}

// Incr implements SessionStore.Incr.
func (s *MemorySessionStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.counters.Get(key)
	if item == nil {
		s.counters.Set(key, 1, window)
		return 1, nil
	}
	n := item.Value() + 1
	remaining := time.Until(item.ExpiresAt())
	if remaining <= 0 {
		remaining = window
		n = 1
	}
	s.counters.Set(key, n, remaining)
	return n, nil
}

// Close stops the cleanup goroutines.
func (s *MemorySessionStore) Close() error {
	s.entries.Stop()
	s.counters.Stop()
	return nil
}

var _ SessionStore = (*MemorySessionStore)(nil)
