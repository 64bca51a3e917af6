// Package service implements the challenge lifecycle: creation with escrow
// invoices, payment monitoring, activation, progress, completion and payout.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/challenge/repository"
	"github.com/fitbounty/fitbounty/internal/ledger"
	"github.com/fitbounty/fitbounty/internal/payment"
)

var (
	// ErrUnknownCommand means a resolved command has no executor. It signals
	// that the classifier and the executor are out of sync.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrPayment wraps failures of the payment collaborator.
	ErrPayment = errors.New("payment backend error")
	// ErrChallengeNotFound is returned when no challenge matches the lookup.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrInvalidTransition is returned for a state change the challenge's
	// status does not allow.
	ErrInvalidTransition = model.ErrInvalidTransition
	// ErrOpenChallengeExists is returned when the owner already has a pending
	// or active challenge.
	ErrOpenChallengeExists = errors.New("owner already has an open challenge")
	// ErrNoPledgeTarget is returned when a pledge does not reply to an open
	// bounty challenge.
	ErrNoPledgeTarget = errors.New("no open bounty challenge to pledge to")
	// ErrNotDue is returned by Finish before the challenge's end date.
	ErrNotDue = errors.New("challenge has not ended yet")
)

// challengeStore is the persistence interface for the lifecycle manager.
// *repository.MemoryStore and *repository.PostgresStore satisfy this interface.
type challengeStore interface {
	Create(ctx context.Context, c *model.Challenge) error
	Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	Update(ctx context.Context, id uuid.UUID, fn repository.UpdateFunc) (*model.Challenge, error)
	OpenByOwner(ctx context.Context, owner string) (*model.Challenge, error)
	LatestByOwner(ctx context.Context, owner string) (*model.Challenge, error)
	ByOriginalMessage(ctx context.Context, messageID string) (*model.Challenge, error)
	List(ctx context.Context, f repository.ListFilter) ([]*model.Challenge, error)
	All(ctx context.Context) ([]*model.Challenge, error)
	NeedingCheck(ctx context.Context, now time.Time) ([]*model.Challenge, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// watcher registers invoices for payment polling. *Monitor satisfies this
// interface.
type watcher interface {
	Watch(w Watch) bool
	Cancel(paymentHash string)
}

// Config tunes the lifecycle manager.
type Config struct {
	// InvoiceExpiry is the lifetime of escrow and pledge invoices.
	InvoiceExpiry time.Duration
	// PledgeWindow is how long a bounty challenge may wait for its first
	// paid pledge before it expires.
	PledgeWindow time.Duration
}

// DefaultConfig returns a one hour invoice expiry and a one day pledge window.
func DefaultConfig() Config {
	return Config{InvoiceExpiry: time.Hour, PledgeWindow: 24 * time.Hour}
}

// Manager owns challenge records and drives their state transitions.
type Manager struct {
	store    challengeStore
	payments payment.Client
	ledger   ledger.Ledger // nil = no ledger writes
	monitor  watcher       // nil = no payment polling
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager creates a Manager. ledger may be nil.
func NewManager(store challengeStore, payments payment.Client, l ledger.Ledger, cfg Config, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = def.InvoiceExpiry
	}
	if cfg.PledgeWindow <= 0 {
		cfg.PledgeWindow = def.PledgeWindow
	}
	return &Manager{
		store:    store,
		payments: payments,
		ledger:   l,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetMonitor configures the escrow payment monitor.
func (m *Manager) SetMonitor(w watcher) {
	m.monitor = w
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) appendLedger(ctx context.Context, id uuid.UUID, action, actor string, payload any) {
	if m.ledger == nil {
		return
	}
	if _, err := m.ledger.Append(ctx, id.String(), action, actor, payload); err != nil {
		m.logger.Error("ledger append failed (non-fatal)",
			zap.String("action", action),
			zap.String("challenge_id", id.String()),
			zap.Error(err),
		)
	}
}

func (m *Manager) watch(w Watch) {
	if m.monitor == nil {
		return
	}
	if !m.monitor.Watch(w) {
		m.logger.Warn("payment monitor refused watch",
			zap.String("challenge_id", w.ChallengeID.String()),
			zap.String("payment_hash", w.PaymentHash),
		)
	}
}

func (m *Manager) cancelWatch(hash string) {
	if m.monitor != nil && hash != "" {
		m.monitor.Cancel(hash)
	}
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, repository.ErrOwnerHasOpenChallenge):
		return ErrOpenChallengeExists
	}
	return err
}
