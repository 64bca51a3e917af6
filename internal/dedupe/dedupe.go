// Package dedupe suppresses duplicate deliveries of the same mention. Relays
// fan a single event out to every subscriber, so the bridge can hand the bot
// one message id several times.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// Store records seen message ids.
type Store interface {
	// FirstSeen marks id as seen and reports whether this call was the first
	// to do so within the TTL window.
	FirstSeen(ctx context.Context, id string) (bool, error)
}

// MemoryStore is an in-process Store. Entries older than the TTL are pruned
// lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

// FirstSeen implements Store.
func (s *MemoryStore) FirstSeen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, at := range s.seen {
		if now.Sub(at) > s.ttl {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = now
	return true, nil
}

// Len returns the number of tracked ids.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
