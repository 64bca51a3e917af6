package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a challenge.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusExpired        Status = "expired"
)

// ErrInvalidTransition is returned when a state change is not allowed from
// the challenge's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPendingPayment, StatusActive, StatusCompleted, StatusFailed, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// CanTransition reports whether moving from s to next is a forward step.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPendingPayment:
		return next == StatusActive || next == StatusExpired
	case StatusActive:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Kind distinguishes penalty bets from bounty challenges.
type Kind string

const (
	KindPenalty Kind = "penalty_bet"
	KindBounty  Kind = "bounty_challenge"
)

// Exercise describes what the owner committed to do.
type Exercise struct {
	Description     string `json:"description"`
	Type            string `json:"type"`
	Count           int    `json:"count"`
	Frequency       string `json:"frequency"`
	FullDescription string `json:"full_description"`
}

// Duration is always stored in days. EndDate is set once, at activation.
type Duration struct {
	Days    int        `json:"days"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

// Penalty is the forfeit owed to the recipient if a penalty bet fails.
type Penalty struct {
	AmountSats   int64  `json:"amount_sats"`
	Recipient    string `json:"recipient"`
	RecipientKey string `json:"recipient_key,omitempty"`
}

// Pledge is one contributor's bounty offer. It counts toward the bounty pool
// only once Paid is set.
type Pledge struct {
	Contributor    string     `json:"contributor"`
	AmountSats     int64      `json:"amount_sats"`
	PaymentRequest string     `json:"payment_request,omitempty"`
	PaymentHash    string     `json:"payment_hash"`
	Paid           bool       `json:"paid"`
	CreatedAt      time.Time  `json:"created_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

// Bounty accumulates third-party pledges on a bounty challenge.
type Bounty struct {
	AmountSats int64    `json:"amount_sats"`
	Pledges    []Pledge `json:"pledges"`
}

// Contributors returns the identities whose pledges have been paid.
func (b *Bounty) Contributors() []string {
	var out []string
	for _, p := range b.Pledges {
		if p.Paid {
			out = append(out, p.Contributor)
		}
	}
	return out
}

// Pledge returns the pledge with the given payment hash.
func (b *Bounty) Pledge(hash string) (*Pledge, bool) {
	for i := range b.Pledges {
		if b.Pledges[i].PaymentHash == hash {
			return &b.Pledges[i], true
		}
	}
	return nil, false
}

// Escrow tracks the invoice that locks the owner's funds.
type Escrow struct {
	PaymentRequest string `json:"payment_request,omitempty"`
	PaymentHash    string `json:"payment_hash,omitempty"`
	ConfirmationID string `json:"confirmation_id,omitempty"`
	Paid           bool   `json:"paid"`
	PayoutHash     string `json:"payout_hash,omitempty"`
	// PayoutPending is set while a payout payment is in flight.
	PayoutPending bool `json:"payout_pending,omitempty"`
}

// DayProgress is the owner's report for one day of an active challenge.
type DayProgress struct {
	Completed  bool      `json:"completed"`
	ProofRef   string    `json:"proof_ref,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Challenge is a money-backed fitness commitment.
type Challenge struct {
	ID                uuid.UUID           `json:"id"`
	Kind              Kind                `json:"kind"`
	Owner             string              `json:"owner"`
	OriginalMessageID string              `json:"original_message_id,omitempty"`
	RelayOrigin       string              `json:"relay_origin,omitempty"`
	OriginalText      string              `json:"original_text,omitempty"`
	Exercise          Exercise            `json:"exercise"`
	Duration          Duration            `json:"duration"`
	Penalty           *Penalty            `json:"penalty,omitempty"`
	Bounty            *Bounty             `json:"bounty,omitempty"`
	Status            Status              `json:"status"`
	Escrow            Escrow              `json:"escrow"`
	Progress          map[int]DayProgress `json:"daily_progress"`
	CreatedAt         time.Time           `json:"created_at"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Open reports whether the challenge is still pending or active.
func (c *Challenge) Open() bool {
	return !c.Status.Terminal()
}

func (c *Challenge) transition(next Status) error {
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}
	c.Status = next
	return nil
}

// Activate marks escrow paid and starts the clock.
func (c *Challenge) Activate(now time.Time, confirmationID string) error {
	if err := c.transition(StatusActive); err != nil {
		return err
	}
	end := now.AddDate(0, 0, c.Duration.Days)
	c.Escrow.Paid = true
	c.Escrow.ConfirmationID = confirmationID
	c.StartedAt = &now
	c.Duration.EndDate = &end
	c.UpdatedAt = now
	return nil
}

// Expire closes a challenge whose escrow was never paid.
func (c *Challenge) Expire(now time.Time) error {
	if err := c.transition(StatusExpired); err != nil {
		return err
	}
	c.CompletedAt = &now
	c.UpdatedAt = now
	return nil
}

// Finish records the outcome of an active challenge. outcome must be
// StatusCompleted or StatusFailed.
func (c *Challenge) Finish(now time.Time, outcome Status) error {
	if outcome != StatusCompleted && outcome != StatusFailed {
		return fmt.Errorf("%w: %s is not an outcome", ErrInvalidTransition, outcome)
	}
	if err := c.transition(outcome); err != nil {
		return err
	}
	c.CompletedAt = &now
	c.UpdatedAt = now
	return nil
}

// RecordProgress upserts the entry for day (1-based). It is only allowed
// while the challenge is active.
func (c *Challenge) RecordProgress(now time.Time, day int, completed bool, proofRef string) error {
	if c.Status != StatusActive {
		return fmt.Errorf("%w: progress requires an active challenge, status is %s", ErrInvalidTransition, c.Status)
	}
	if day < 1 || day > c.Duration.Days {
		return fmt.Errorf("day %d outside 1..%d", day, c.Duration.Days)
	}
	if c.Progress == nil {
		c.Progress = make(map[int]DayProgress)
	}
	c.Progress[day] = DayProgress{Completed: completed, ProofRef: proofRef, RecordedAt: now}
	c.UpdatedAt = now
	return nil
}

// NeedsCheck reports whether an active challenge has passed its end date.
func (c *Challenge) NeedsCheck(now time.Time) bool {
	return c.Status == StatusActive && c.Duration.EndDate != nil && now.After(*c.Duration.EndDate)
}

// CompletedDays counts days reported as completed.
func (c *Challenge) CompletedDays() int {
	n := 0
	for _, p := range c.Progress {
		if p.Completed {
			n++
		}
	}
	return n
}

// ProgressPercent is CompletedDays as a rounded share of Duration.Days.
func (c *Challenge) ProgressPercent() int {
	if c.Duration.Days <= 0 {
		return 0
	}
	return (c.CompletedDays()*100 + c.Duration.Days/2) / c.Duration.Days
}

// AwaitingPayment reports whether hash is an unpaid invoice this challenge
// is waiting on, either its escrow or a pending pledge.
func (c *Challenge) AwaitingPayment(hash string) bool {
	if hash == "" {
		return false
	}
	if c.Status == StatusPendingPayment && c.Escrow.PaymentHash == hash && !c.Escrow.Paid {
		return true
	}
	if c.Bounty != nil && c.Open() {
		if p, ok := c.Bounty.Pledge(hash); ok && !p.Paid {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Challenge) Clone() *Challenge {
	cp := *c
	if c.Duration.EndDate != nil {
		t := *c.Duration.EndDate
		cp.Duration.EndDate = &t
	}
	if c.Penalty != nil {
		p := *c.Penalty
		cp.Penalty = &p
	}
	if c.Bounty != nil {
		b := Bounty{AmountSats: c.Bounty.AmountSats, Pledges: make([]Pledge, len(c.Bounty.Pledges))}
		copy(b.Pledges, c.Bounty.Pledges)
		cp.Bounty = &b
	}
	if c.Progress != nil {
		cp.Progress = make(map[int]DayProgress, len(c.Progress))
		for k, v := range c.Progress {
			cp.Progress[k] = v
		}
	}
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
