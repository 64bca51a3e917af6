// Package repository stores challenge records and the one-open-challenge-per-owner index.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
)

var (
	// ErrNotFound is returned when no challenge matches the lookup.
	ErrNotFound = errors.New("challenge not found")
	// ErrOwnerHasOpenChallenge is returned by Create when the owner already
	// has a pending or active challenge.
	ErrOwnerHasOpenChallenge = errors.New("owner already has an open challenge")
)

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	Status model.Status
	Kind   model.Kind
	Owner  string
	Limit  int
	Offset int
}

// UpdateFunc mutates a challenge inside the store's per-id critical section.
// Returning an error aborts the update.
type UpdateFunc func(c *model.Challenge) error

const defaultListLimit = 50

// Store persists challenges. MemoryStore and PostgresStore implement it.
type Store interface {
	// Create inserts c, assigning an ID when it has none.
	Create(ctx context.Context, c *model.Challenge) error
	Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.Challenge, error)
	OpenByOwner(ctx context.Context, owner string) (*model.Challenge, error)
	LatestByOwner(ctx context.Context, owner string) (*model.Challenge, error)
	ByOriginalMessage(ctx context.Context, messageID string) (*model.Challenge, error)
	List(ctx context.Context, f ListFilter) ([]*model.Challenge, error)
	All(ctx context.Context) ([]*model.Challenge, error)
	NeedingCheck(ctx context.Context, now time.Time) ([]*model.Challenge, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func stamp(c *model.Challenge, now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Progress == nil {
		c.Progress = make(map[int]model.DayProgress)
	}
}
