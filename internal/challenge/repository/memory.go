package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
)

// MemoryStore is a concurrency-safe in-process challenge store. Updates to a
// single challenge are serialised by a per-id lock; reads never block on an
// update in progress.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[uuid.UUID]*model.Challenge
	owners map[string]uuid.UUID // owner → open challenge

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[uuid.UUID]*model.Challenge),
		owners: make(map[string]uuid.UUID),
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryStore) lockFor(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create stores c, assigning an ID when it has none.
func (s *MemoryStore) Create(_ context.Context, c *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Open() {
		if _, ok := s.owners[c.Owner]; ok {
			return ErrOwnerHasOpenChallenge
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	stamp(c, time.Now().UTC())

	s.rows[c.ID] = c.Clone()
	if c.Open() {
		s.owners[c.Owner] = c.ID
	}
	return nil
}

// Get returns a copy of the challenge with the given id.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Update applies fn to a copy of the challenge and stores the result. The
// owner index is released when the challenge reaches a terminal status.
func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.Challenge, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return nil, ErrNotFound
	}
	s.rows[id] = c.Clone()
	if !c.Open() && s.owners[c.Owner] == id {
		delete(s.owners, c.Owner)
	}
	return c, nil
}

// OpenByOwner returns the owner's pending or active challenge.
func (s *MemoryStore) OpenByOwner(_ context.Context, owner string) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return s.rows[id].Clone(), nil
}

// LatestByOwner returns the owner's open challenge, or else their most
// recently created one.
func (s *MemoryStore) LatestByOwner(ctx context.Context, owner string) (*model.Challenge, error) {
	if c, err := s.OpenByOwner(ctx, owner); err == nil {
		return c, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Challenge
	for _, c := range s.rows {
		if c.Owner == owner && (latest == nil || c.CreatedAt.After(latest.CreatedAt)) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

// ByOriginalMessage returns the challenge created from the given message id.
func (s *MemoryStore) ByOriginalMessage(_ context.Context, messageID string) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.rows {
		if messageID != "" && c.OriginalMessageID == messageID {
			return c.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// List returns challenges matching f, newest first.
func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]*model.Challenge, error) {
	s.mu.RLock()
	var out []*model.Challenge
	for _, c := range s.rows {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Kind != "" && c.Kind != f.Kind {
			continue
		}
		if f.Owner != "" && c.Owner != f.Owner {
			continue
		}
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every stored challenge, for aggregate views such as the
// leaderboard.
func (s *MemoryStore) All(_ context.Context) ([]*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Challenge, 0, len(s.rows))
	for _, c := range s.rows {
		out = append(out, c.Clone())
	}
	return out, nil
}

// NeedingCheck returns active challenges whose end date is before now.
func (s *MemoryStore) NeedingCheck(_ context.Context, now time.Time) ([]*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Challenge
	for _, c := range s.rows {
		if c.NeedsCheck(now) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration.EndDate.Before(*out[j].Duration.EndDate) })
	return out, nil
}

// Delete permanently removes a challenge.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if s.owners[c.Owner] == id {
		delete(s.owners, c.Owner)
	}
	delete(s.rows, id)

	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
	return nil
}
