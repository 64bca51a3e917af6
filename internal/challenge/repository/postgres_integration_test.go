//go:build integration

package repository_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/challenge/repository"
)

func setupPostgres(t *testing.T) *repository.PostgresStore {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	db.Exec(ctx, "DELETE FROM challenges") //nolint:errcheck
	return repository.NewPostgresStore(db)
}

func TestPostgresStore_lifecycle(t *testing.T) {
	s := setupPostgres(t)

	c := pendingChallenge("pg-owner")
	if err := s.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, pendingChallenge("pg-owner")); !errors.Is(err, repository.ErrOwnerHasOpenChallenge) {
		t.Fatalf("expected ErrOwnerHasOpenChallenge, got %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	updated, err := s.Update(ctx, c.ID, func(c *model.Challenge) error {
		if err := c.Activate(now, "preimage"); err != nil {
			return err
		}
		return c.RecordProgress(now, 1, true, "proof")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != model.StatusActive {
		t.Errorf("status = %s", updated.Status)
	}

	got, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Escrow.Paid || got.Progress[1].ProofRef != "proof" || got.Penalty.Recipient != "alice" {
		t.Errorf("round trip lost data: %+v", got)
	}

	if err := s.Delete(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, c.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPostgresStore_pledges(t *testing.T) {
	s := setupPostgres(t)

	c := &model.Challenge{
		Kind:     model.KindBounty,
		Owner:    "pg-bounty",
		Status:   model.StatusPendingPayment,
		Duration: model.Duration{Days: 3},
		Bounty:   &model.Bounty{},
	}
	if err := s.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	_, err := s.Update(ctx, c.ID, func(c *model.Challenge) error {
		c.Bounty.Pledges = append(c.Bounty.Pledges,
			model.Pledge{Contributor: "x", AmountSats: 100, PaymentHash: "ph1", CreatedAt: time.Now().UTC()},
			model.Pledge{Contributor: "y", AmountSats: 200, PaymentHash: "ph2", CreatedAt: time.Now().UTC()},
		)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Dropping a pledge from the record removes its row.
	_, err = s.Update(ctx, c.ID, func(c *model.Challenge) error {
		c.Bounty.Pledges = c.Bounty.Pledges[1:]
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, c.ID)
	if len(got.Bounty.Pledges) != 1 || got.Bounty.Pledges[0].PaymentHash != "ph2" {
		t.Errorf("pledges = %+v", got.Bounty.Pledges)
	}
}
