package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/challenge/repository"
)

var ctx = context.Background()

func pendingChallenge(owner string) *model.Challenge {
	return &model.Challenge{
		Kind:     model.KindPenalty,
		Owner:    owner,
		Status:   model.StatusPendingPayment,
		Exercise: model.Exercise{Type: "pushup", Count: 20},
		Duration: model.Duration{Days: 7},
		Penalty:  &model.Penalty{AmountSats: 1000, Recipient: "alice"},
		Escrow:   model.Escrow{PaymentHash: "hash-" + owner},
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := repository.NewMemoryStore()
	c := pendingChallenge("bob")
	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if c.ID.String() == "00000000-0000-0000-0000-000000000000" || c.CreatedAt.IsZero() {
		t.Fatalf("Create did not assign id/timestamps: %+v", c)
	}

	got, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Owner != "bob" || got.Penalty.AmountSats != 1000 {
		t.Errorf("unexpected challenge: %+v", got)
	}

	// Returned values are copies.
	got.Penalty.AmountSats = 1
	again, _ := s.Get(ctx, c.ID)
	if again.Penalty.AmountSats != 1000 {
		t.Error("Get returned shared state")
	}
}

func TestMemoryStore_OneOpenPerOwner(t *testing.T) {
	s := repository.NewMemoryStore()
	first := pendingChallenge("bob")
	if err := s.Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, pendingChallenge("bob")); !errors.Is(err, repository.ErrOwnerHasOpenChallenge) {
		t.Fatalf("expected ErrOwnerHasOpenChallenge, got %v", err)
	}

	// Once the first reaches a terminal state the owner is free again.
	if _, err := s.Update(ctx, first.ID, func(c *model.Challenge) error {
		return c.Expire(time.Now().UTC())
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenByOwner(ctx, "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected no open challenge, got %v", err)
	}
	if err := s.Create(ctx, pendingChallenge("bob")); err != nil {
		t.Errorf("Create after expiry: %v", err)
	}
}

func TestMemoryStore_LatestByOwner(t *testing.T) {
	s := repository.NewMemoryStore()
	old := pendingChallenge("bob")
	_ = s.Create(ctx, old)
	_, _ = s.Update(ctx, old.ID, func(c *model.Challenge) error { return c.Expire(time.Now().UTC()) })

	got, err := s.LatestByOwner(ctx, "bob")
	if err != nil || got.ID != old.ID {
		t.Fatalf("LatestByOwner = %v, %v", got, err)
	}

	open := pendingChallenge("bob")
	_ = s.Create(ctx, open)
	got, _ = s.LatestByOwner(ctx, "bob")
	if got.ID != open.ID {
		t.Errorf("expected open challenge to be preferred")
	}

	if _, err := s.LatestByOwner(ctx, "nobody"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateAbortsOnError(t *testing.T) {
	s := repository.NewMemoryStore()
	c := pendingChallenge("bob")
	_ = s.Create(ctx, c)

	boom := errors.New("boom")
	_, err := s.Update(ctx, c.ID, func(c *model.Challenge) error {
		c.Status = model.StatusActive
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := s.Get(ctx, c.ID)
	if got.Status != model.StatusPendingPayment {
		t.Error("aborted update was persisted")
	}
}

func TestMemoryStore_UpdateSerialisesPerID(t *testing.T) {
	s := repository.NewMemoryStore()
	c := pendingChallenge("bob")
	_ = s.Create(ctx, c)

	now := time.Now().UTC()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, c.ID, func(c *model.Challenge) error {
				return c.Activate(now, "p")
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one activation, got %d", wins)
	}
}

func TestMemoryStore_ListAndNeedingCheck(t *testing.T) {
	s := repository.NewMemoryStore()
	a, b := pendingChallenge("a"), pendingChallenge("b")
	_ = s.Create(ctx, a)
	_ = s.Create(ctx, b)

	past := time.Now().UTC().AddDate(0, 0, -30)
	_, _ = s.Update(ctx, a.ID, func(c *model.Challenge) error { return c.Activate(past, "p") })

	active, _ := s.List(ctx, repository.ListFilter{Status: model.StatusActive})
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("List(active) = %v", active)
	}
	all, _ := s.List(ctx, repository.ListFilter{})
	if len(all) != 2 {
		t.Errorf("List() returned %d", len(all))
	}
	paged, _ := s.List(ctx, repository.ListFilter{Limit: 1, Offset: 1})
	if len(paged) != 1 {
		t.Errorf("paged List() returned %d", len(paged))
	}

	due, _ := s.NeedingCheck(ctx, time.Now().UTC())
	if len(due) != 1 || due[0].ID != a.ID {
		t.Errorf("NeedingCheck = %v", due)
	}
}

func TestMemoryStore_ByOriginalMessageAndDelete(t *testing.T) {
	s := repository.NewMemoryStore()
	c := pendingChallenge("bob")
	c.OriginalMessageID = "evt1"
	_ = s.Create(ctx, c)

	got, err := s.ByOriginalMessage(ctx, "evt1")
	if err != nil || got.ID != c.ID {
		t.Fatalf("ByOriginalMessage = %v, %v", got, err)
	}
	if _, err := s.ByOriginalMessage(ctx, ""); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("empty id: got %v", err)
	}

	if err := s.Delete(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, c.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
	if err := s.Create(ctx, pendingChallenge("bob")); err != nil {
		t.Errorf("owner index not released by delete: %v", err)
	}
}
