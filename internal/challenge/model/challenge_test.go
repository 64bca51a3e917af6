package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
)

func newPending(days int) *model.Challenge {
	return &model.Challenge{
		Kind:     model.KindPenalty,
		Owner:    "owner",
		Status:   model.StatusPendingPayment,
		Duration: model.Duration{Days: days},
		Penalty:  &model.Penalty{AmountSats: 1000, Recipient: "alice"},
		Escrow:   model.Escrow{PaymentHash: "hash1"},
	}
}

func TestStatus_CanTransition(t *testing.T) {
	all := []model.Status{
		model.StatusPendingPayment, model.StatusActive,
		model.StatusCompleted, model.StatusFailed, model.StatusExpired,
	}
	allowed := map[[2]model.Status]bool{
		{model.StatusPendingPayment, model.StatusActive}:  true,
		{model.StatusPendingPayment, model.StatusExpired}: true,
		{model.StatusActive, model.StatusCompleted}:       true,
		{model.StatusActive, model.StatusFailed}:          true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransition(to); got != allowed[[2]model.Status{from, to}] {
				t.Errorf("%s -> %s: got %v", from, to, got)
			}
		}
	}
}

func TestChallenge_Activate(t *testing.T) {
	c := newPending(7)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := c.Activate(now, "preimage"); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if c.Status != model.StatusActive || !c.Escrow.Paid || c.Escrow.ConfirmationID != "preimage" {
		t.Errorf("unexpected state after activate: %+v", c)
	}
	if !c.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v", c.StartedAt)
	}
	if want := now.AddDate(0, 0, 7); !c.Duration.EndDate.Equal(want) {
		t.Errorf("EndDate = %v, want %v", c.Duration.EndDate, want)
	}

	// A second activation must not move the clock.
	if err := c.Activate(now.Add(time.Hour), "other"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("second Activate: expected ErrInvalidTransition, got %v", err)
	}
	if !c.StartedAt.Equal(now) {
		t.Error("StartedAt changed on rejected activation")
	}
}

func TestChallenge_ExpireOnlyFromPending(t *testing.T) {
	c := newPending(3)
	now := time.Now().UTC()
	if err := c.Expire(now); err != nil {
		t.Fatal(err)
	}
	if c.Status != model.StatusExpired || c.Escrow.Paid {
		t.Errorf("unexpected state: %+v", c)
	}
	if err := c.Activate(now, "late"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("activate after expire: got %v", err)
	}
}

func TestChallenge_Finish(t *testing.T) {
	c := newPending(3)
	now := time.Now().UTC()
	if err := c.Finish(now, model.StatusCompleted); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("finish while pending: got %v", err)
	}
	_ = c.Activate(now, "p")
	if err := c.Finish(now, model.StatusExpired); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expired is not an outcome: got %v", err)
	}
	if err := c.Finish(now, model.StatusFailed); err != nil {
		t.Fatal(err)
	}
	if c.Status != model.StatusFailed || c.CompletedAt == nil {
		t.Errorf("unexpected state: %+v", c)
	}
}

func TestChallenge_RecordProgress(t *testing.T) {
	c := newPending(4)
	now := time.Now().UTC()

	if err := c.RecordProgress(now, 1, true, ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("progress while pending: got %v", err)
	}
	_ = c.Activate(now, "p")

	if err := c.RecordProgress(now, 5, true, ""); err == nil {
		t.Error("expected error for day past duration")
	}
	_ = c.RecordProgress(now, 1, true, "video1")
	_ = c.RecordProgress(now, 2, false, "")
	_ = c.RecordProgress(now, 2, true, "video2") // upsert

	if got := c.CompletedDays(); got != 2 {
		t.Errorf("CompletedDays = %d, want 2", got)
	}
	if got := c.ProgressPercent(); got != 50 {
		t.Errorf("ProgressPercent = %d, want 50", got)
	}
	if len(c.Progress) != 2 {
		t.Errorf("expected 2 progress entries, got %d", len(c.Progress))
	}
}

func TestChallenge_NeedsCheck(t *testing.T) {
	c := newPending(2)
	now := time.Now().UTC()
	if c.NeedsCheck(now.AddDate(1, 0, 0)) {
		t.Error("pending challenge never needs check")
	}
	_ = c.Activate(now, "p")
	if c.NeedsCheck(now.AddDate(0, 0, 1)) {
		t.Error("challenge before end date must not need check")
	}
	if !c.NeedsCheck(now.AddDate(0, 0, 2).Add(time.Second)) {
		t.Error("challenge past end date should need check")
	}
}

func TestChallenge_AwaitingPayment(t *testing.T) {
	c := newPending(2)
	if !c.AwaitingPayment("hash1") {
		t.Error("expected escrow hash to be awaited")
	}
	if c.AwaitingPayment("other") || c.AwaitingPayment("") {
		t.Error("unexpected awaited hash")
	}

	b := &model.Challenge{
		Kind:   model.KindBounty,
		Status: model.StatusActive,
		Bounty: &model.Bounty{Pledges: []model.Pledge{
			{Contributor: "bob", AmountSats: 100, PaymentHash: "p1"},
			{Contributor: "eve", AmountSats: 200, PaymentHash: "p2", Paid: true},
		}},
	}
	if !b.AwaitingPayment("p1") || b.AwaitingPayment("p2") {
		t.Error("pledge awaiting state wrong")
	}
	if got := b.Bounty.Contributors(); len(got) != 1 || got[0] != "eve" {
		t.Errorf("Contributors = %v", got)
	}
}

func TestChallenge_CloneIsDeep(t *testing.T) {
	c := newPending(3)
	_ = c.Activate(time.Now().UTC(), "p")
	_ = c.RecordProgress(time.Now().UTC(), 1, true, "")

	cp := c.Clone()
	cp.Penalty.AmountSats = 1
	cp.Progress[2] = model.DayProgress{Completed: true}
	*cp.Duration.EndDate = time.Time{}

	if c.Penalty.AmountSats != 1000 || len(c.Progress) != 1 || c.Duration.EndDate.IsZero() {
		t.Error("Clone shares state with the original")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := model.ParseStatus("active"); err != nil || s != model.StatusActive {
		t.Errorf("ParseStatus(active) = %q, %v", s, err)
	}
	if _, err := model.ParseStatus("bogus"); err == nil {
		t.Error("expected error for unknown status")
	}
}
