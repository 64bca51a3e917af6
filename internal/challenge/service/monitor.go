package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/payment"
)

// Purpose says what a watched invoice pays for.
type Purpose string

const (
	PurposeEscrow Purpose = "escrow"
	PurposePledge Purpose = "pledge"
)

// Watch is one invoice the monitor polls.
type Watch struct {
	ChallengeID uuid.UUID
	PaymentHash string
	Purpose     Purpose
}

// InvoiceHandler receives the outcome of a watched invoice.
// *Manager satisfies this interface.
type InvoiceHandler interface {
	IsAwaiting(ctx context.Context, w Watch) (bool, error)
	OnInvoicePaid(ctx context.Context, w Watch, confirmationID string) error
	OnInvoiceExpired(ctx context.Context, w Watch) error
}

// PollRecordFunc is an optional callback for recording poll outcomes:
// "paid", "expired", "pending" or "error".
type PollRecordFunc func(outcome string)

// MonitorConfig holds the polling schedule.
type MonitorConfig struct {
	InitialDelay time.Duration
	PollInterval time.Duration
	// PollTimeout bounds one status query.
	PollTimeout time.Duration
}

type watchEntry struct {
	cancel context.CancelFunc
}

// Monitor polls the payment backend for each watched invoice until it is
// paid or expires. Each watch runs in its own goroutine and stops on its own
// once the challenge no longer awaits the invoice.
type Monitor struct {
	payments payment.Client
	handler  InvoiceHandler
	cfg      MonitorConfig
	onPoll   PollRecordFunc
	logger   *zap.Logger

	mu      sync.Mutex
	watches map[string]*watchEntry
	stopped bool
	wg      sync.WaitGroup
}

// NewMonitor creates a Monitor. Zero config values default to a 10s initial
// delay and a 30s poll interval.
func NewMonitor(payments payment.Client, handler InvoiceHandler, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 15 * time.Second
	}
	return &Monitor{
		payments: payments,
		handler:  handler,
		cfg:      cfg,
		logger:   logger,
		watches:  make(map[string]*watchEntry),
	}
}

// SetPollRecord configures the metrics recording callback.
func (m *Monitor) SetPollRecord(fn PollRecordFunc) {
	m.onPoll = fn
}

// Watch starts polling w.PaymentHash. It returns false when the hash is
// already watched or the monitor is stopped.
func (m *Monitor) Watch(w Watch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || w.PaymentHash == "" {
		return false
	}
	if _, ok := m.watches[w.PaymentHash]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &watchEntry{cancel: cancel}
	m.watches[w.PaymentHash] = e

	m.wg.Add(1)
	go m.run(ctx, w, e)
	return true
}

// Cancel stops polling paymentHash. Unknown hashes are ignored.
func (m *Monitor) Cancel(paymentHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.watches[paymentHash]; ok {
		e.cancel()
		delete(m.watches, paymentHash)
	}
}

// Active returns the number of watched invoices.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Stop cancels every watch and waits for the pollers to exit. Watch returns
// false afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	for hash, e := range m.watches {
		e.cancel()
		delete(m.watches, hash)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, w Watch, e *watchEntry) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.watches[w.PaymentHash] == e {
			delete(m.watches, w.PaymentHash)
		}
		m.mu.Unlock()
		e.cancel()
	}()

	m.logger.Debug("monitoring invoice",
		zap.String("challenge_id", w.ChallengeID.String()),
		zap.String("payment_hash", w.PaymentHash),
		zap.String("purpose", string(w.Purpose)),
	)

	timer := time.NewTimer(m.cfg.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if m.poll(ctx, w) {
			return
		}
		timer.Reset(m.cfg.PollInterval)
	}
}

// poll performs one status check and reports whether the watch is done.
// The handler may cancel this watch while applying an outcome, so the poll
// runs detached from the watch context.
func (m *Monitor) poll(ctx context.Context, w Watch) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PollTimeout)
	defer cancel()

	log := m.logger.With(
		zap.String("challenge_id", w.ChallengeID.String()),
		zap.String("payment_hash", w.PaymentHash),
	)

	awaiting, err := m.handler.IsAwaiting(ctx, w)
	if err != nil {
		m.record("error")
		log.Warn("escrow monitor: load challenge", zap.Error(err))
		return false
	}
	if !awaiting {
		return true
	}

	st, err := m.payments.InvoiceStatus(ctx, w.PaymentHash)
	if err != nil {
		m.record("error")
		log.Warn("escrow monitor: invoice status", zap.Error(err))
		return false
	}

	switch {
	case st.Paid:
		m.record("paid")
		confirmation := st.Preimage
		if confirmation == "" {
			confirmation = w.PaymentHash
		}
		if err := m.handler.OnInvoicePaid(ctx, w, confirmation); err != nil {
			return m.settleFailed(log, "paid", err)
		}
		log.Info("escrow monitor: invoice paid")
		return true
	case st.Expired:
		m.record("expired")
		if err := m.handler.OnInvoiceExpired(ctx, w); err != nil {
			return m.settleFailed(log, "expired", err)
		}
		log.Info("escrow monitor: invoice expired")
		return true
	}

	m.record("pending")
	// A late poll must not outlive a challenge resolved elsewhere.
	awaiting, err = m.handler.IsAwaiting(ctx, w)
	return err == nil && !awaiting
}

// settleFailed logs a handler failure. A lost race against another
// transition ends the watch; anything else is retried on the next poll.
func (m *Monitor) settleFailed(log *zap.Logger, outcome string, err error) bool {
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrChallengeNotFound) {
		log.Info("escrow monitor: challenge already resolved", zap.String("outcome", outcome), zap.Error(err))
		return true
	}
	log.Error("escrow monitor: apply outcome", zap.String("outcome", outcome), zap.Error(err))
	return false
}

func (m *Monitor) record(outcome string) {
	if m.onPoll != nil {
		m.onPoll(outcome)
	}
}
