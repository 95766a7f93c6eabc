package memory

import (
	"context"
	"sync"
	"time"
)

type inmemEntry struct {
	value   string
	list    []string // most recent first
	expires time.Time
}

// InMemStore implements Store on process-local maps. Used in dev mode and in
// tests when no Redis address is configured.
type InMemStore struct {
	mu      sync.Mutex
	entries map[string]*inmemEntry
	now     func() time.Time
}

func NewInMemStore() *InMemStore {
	return &InMemStore{
		entries: make(map[string]*inmemEntry),
		now:     time.Now,
	}
}

func (s *InMemStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *InMemStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &inmemEntry{value: value, expires: s.deadline(ttl)}
	return nil
}

func (s *InMemStore) Append(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil {
		entry = &inmemEntry{}
		s.entries[key] = entry
	}
	entry.list = append([]string{value}, entry.list...)
	entry.expires = s.deadline(ttl)
	return nil
}

func (s *InMemStore) List(ctx context.Context, key string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil || n <= 0 {
		return nil, nil
	}
	if n > len(entry.list) {
		n = len(entry.list)
	}
	out := make([]string, n)
	copy(out, entry.list[:n])
	return out, nil
}

// live returns the entry for key, expiring it lazily. Caller holds the lock.
func (s *InMemStore) live(key string) *inmemEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !entry.expires.IsZero() && s.now().After(entry.expires) {
		delete(s.entries, key)
		return nil
	}
	return entry
}

func (s *InMemStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
