package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/challenge/repository"
	"github.com/fitbounty/fitbounty/internal/command"
	"github.com/fitbounty/fitbounty/internal/ledger"
	"github.com/fitbounty/fitbounty/internal/payment"
)

// Origin identifies the message a command came from.
type Origin struct {
	Sender    string
	MessageID string
	Relay     string
	Text      string
	// ReplyTo is the message the origin replies to, if any. Pledges target
	// the challenge created by that message.
	ReplyTo string
}

func exerciseOf(p command.Params) model.Exercise {
	return model.Exercise{
		Description:     p.Exercise,
		Type:            p.ExerciseType,
		Count:           p.ExerciseCount,
		Frequency:       p.Frequency,
		FullDescription: p.FullDescription,
	}
}

// CreatePenalty opens a penalty bet and requests its escrow invoice. The
// challenge is stored only once the invoice exists, so a payment backend
// failure leaves nothing behind.
func (m *Manager) CreatePenalty(ctx context.Context, o Origin, p command.Params) (*model.Challenge, *payment.Invoice, error) {
	if _, err := m.store.OpenByOwner(ctx, o.Sender); err == nil {
		return nil, nil, ErrOpenChallengeExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("check open challenge: %w", err)
	}

	memo := "Penalty bet escrow: " + p.FullDescription
	inv, err := m.payments.CreateInvoice(ctx, p.PenaltyAmount, memo, m.cfg.InvoiceExpiry)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create escrow invoice: %v", ErrPayment, err)
	}

	c := &model.Challenge{
		Kind:              model.KindPenalty,
		Owner:             o.Sender,
		OriginalMessageID: o.MessageID,
		RelayOrigin:       o.Relay,
		OriginalText:      o.Text,
		Exercise:          exerciseOf(p),
		Duration:          model.Duration{Days: p.Duration},
		Penalty: &model.Penalty{
			AmountSats:   p.PenaltyAmount,
			Recipient:    p.PenaltyRecipient,
			RecipientKey: p.PenaltyRecipientKey,
		},
		Status: model.StatusPendingPayment,
		Escrow: model.Escrow{PaymentRequest: inv.PaymentRequest, PaymentHash: inv.PaymentHash},
	}
	if err := m.store.Create(ctx, c); err != nil {
		return nil, nil, fmt.Errorf("create challenge: %w", mapStoreErr(err))
	}

	m.appendLedger(ctx, c.ID, ledger.ActionCreate, o.Sender, map[string]any{
		"kind":         c.Kind,
		"exercise":     c.Exercise.FullDescription,
		"days":         c.Duration.Days,
		"penalty_sats": c.Penalty.AmountSats,
		"recipient":    c.Penalty.Recipient,
		"payment_hash": inv.PaymentHash,
	})
	m.watch(Watch{ChallengeID: c.ID, PaymentHash: inv.PaymentHash, Purpose: PurposeEscrow})

	m.logger.Info("penalty bet created",
		zap.String("challenge_id", c.ID.String()),
		zap.String("owner", c.Owner),
		zap.Int64("penalty_sats", c.Penalty.AmountSats),
	)
	return c, inv, nil
}

// CreateBounty opens a bounty challenge. It waits in pending_payment until
// the first pledge is paid.
func (m *Manager) CreateBounty(ctx context.Context, o Origin, p command.Params) (*model.Challenge, error) {
	c := &model.Challenge{
		Kind:              model.KindBounty,
		Owner:             o.Sender,
		OriginalMessageID: o.MessageID,
		RelayOrigin:       o.Relay,
		OriginalText:      o.Text,
		Exercise:          exerciseOf(p),
		Duration:          model.Duration{Days: p.Duration},
		Bounty:            &model.Bounty{},
		Status:            model.StatusPendingPayment,
	}
	if err := m.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create challenge: %w", mapStoreErr(err))
	}

	m.appendLedger(ctx, c.ID, ledger.ActionCreate, o.Sender, map[string]any{
		"kind":     c.Kind,
		"exercise": c.Exercise.FullDescription,
		"days":     c.Duration.Days,
	})
	m.logger.Info("bounty challenge created",
		zap.String("challenge_id", c.ID.String()),
		zap.String("owner", c.Owner),
	)
	return c, nil
}

// Pledge adds a bounty pledge to the challenge created by o.ReplyTo and
// returns the invoice the contributor must pay.
func (m *Manager) Pledge(ctx context.Context, o Origin, amountSats int64) (*model.Challenge, *payment.Invoice, error) {
	if o.ReplyTo == "" {
		return nil, nil, ErrNoPledgeTarget
	}
	target, err := m.store.ByOriginalMessage(ctx, o.ReplyTo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNoPledgeTarget
		}
		return nil, nil, fmt.Errorf("find pledge target: %w", err)
	}
	if target.Kind != model.KindBounty || !target.Open() {
		return nil, nil, ErrNoPledgeTarget
	}

	memo := "Bounty pledge: " + target.Exercise.FullDescription
	inv, err := m.payments.CreateInvoice(ctx, amountSats, memo, m.cfg.InvoiceExpiry)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create pledge invoice: %v", ErrPayment, err)
	}

	now := m.now()
	c, err := m.store.Update(ctx, target.ID, func(c *model.Challenge) error {
		if !c.Open() || c.Bounty == nil {
			return ErrNoPledgeTarget
		}
		c.Bounty.Pledges = append(c.Bounty.Pledges, model.Pledge{
			Contributor:    o.Sender,
			AmountSats:     amountSats,
			PaymentRequest: inv.PaymentRequest,
			PaymentHash:    inv.PaymentHash,
			CreatedAt:      now,
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record pledge: %w", mapStoreErr(err))
	}

	m.appendLedger(ctx, c.ID, ledger.ActionPledge, o.Sender, map[string]any{
		"amount_sats":  amountSats,
		"payment_hash": inv.PaymentHash,
		"paid":         false,
	})
	m.watch(Watch{ChallengeID: c.ID, PaymentHash: inv.PaymentHash, Purpose: PurposePledge})
	return c, inv, nil
}

// Activate moves a pending challenge to active. confirmationID identifies
// the escrow payment.
func (m *Manager) Activate(ctx context.Context, id uuid.UUID, confirmationID, actor string) (*model.Challenge, error) {
	c, err := m.store.Update(ctx, id, func(c *model.Challenge) error {
		return c.Activate(m.now(), confirmationID)
	})
	if err != nil {
		return nil, fmt.Errorf("activate challenge: %w", mapStoreErr(err))
	}
	m.cancelWatch(c.Escrow.PaymentHash)
	m.appendLedger(ctx, c.ID, ledger.ActionActivate, actor, map[string]any{
		"confirmation_id": confirmationID,
		"end_date":        c.Duration.EndDate,
	})
	m.logger.Info("challenge activated",
		zap.String("challenge_id", c.ID.String()),
		zap.Timep("end_date", c.Duration.EndDate),
	)
	return c, nil
}

// Expire closes a pending challenge whose escrow was never paid. Outstanding
// pledge invoices stop being watched.
func (m *Manager) Expire(ctx context.Context, id uuid.UUID, actor string) (*model.Challenge, error) {
	c, err := m.store.Update(ctx, id, func(c *model.Challenge) error {
		return c.Expire(m.now())
	})
	if err != nil {
		return nil, fmt.Errorf("expire challenge: %w", mapStoreErr(err))
	}
	m.cancelAll(c)
	m.appendLedger(ctx, c.ID, ledger.ActionExpire, actor, nil)
	m.logger.Info("challenge expired", zap.String("challenge_id", c.ID.String()))
	return c, nil
}

// RecordProgress upserts one day's progress on an active challenge.
func (m *Manager) RecordProgress(ctx context.Context, id uuid.UUID, day int, completed bool, proofRef, actor string) (*model.Challenge, error) {
	c, err := m.store.Update(ctx, id, func(c *model.Challenge) error {
		return c.RecordProgress(m.now(), day, completed, proofRef)
	})
	if err != nil {
		return nil, fmt.Errorf("record progress: %w", mapStoreErr(err))
	}
	m.appendLedger(ctx, c.ID, ledger.ActionProgress, actor, map[string]any{
		"day":       day,
		"completed": completed,
		"proof_ref": proofRef,
	})
	return c, nil
}

// Finish records the outcome of an active challenge whose end date has
// passed. A non-empty payoutInvoice is paid after the outcome is stored;
// a payout failure leaves the outcome in place and returns ErrPayment.
func (m *Manager) Finish(ctx context.Context, id uuid.UUID, outcome model.Status, payoutInvoice, actor string) (*model.Challenge, error) {
	now := m.now()
	c, err := m.store.Update(ctx, id, func(c *model.Challenge) error {
		if c.Status == model.StatusActive && !c.NeedsCheck(now) {
			return ErrNotDue
		}
		return c.Finish(now, outcome)
	})
	if err != nil {
		return nil, fmt.Errorf("finish challenge: %w", mapStoreErr(err))
	}

	action := ledger.ActionComplete
	if outcome == model.StatusFailed {
		action = ledger.ActionFail
	}
	m.appendLedger(ctx, c.ID, action, actor, map[string]any{
		"completed_days": c.CompletedDays(),
		"days":           c.Duration.Days,
	})
	m.cancelAll(c)
	m.logger.Info("challenge finished",
		zap.String("challenge_id", c.ID.String()),
		zap.String("outcome", string(outcome)),
	)

	if payoutInvoice == "" {
		return c, nil
	}
	return m.Payout(ctx, id, payoutInvoice, actor)
}

// Payout settles the escrow of a finished challenge by paying invoice. A
// completed challenge refunds the owner and a failed one pays the recipient;
// the caller supplies the matching invoice. The payout is claimed in the
// store before paying, so concurrent calls pay at most once.
func (m *Manager) Payout(ctx context.Context, id uuid.UUID, invoice, actor string) (*model.Challenge, error) {
	c, err := m.store.Update(ctx, id, func(c *model.Challenge) error {
		if c.Status != model.StatusCompleted && c.Status != model.StatusFailed {
			return fmt.Errorf("%w: payout requires a finished challenge, status is %s", ErrInvalidTransition, c.Status)
		}
		if c.Escrow.PayoutHash != "" {
			return fmt.Errorf("%w: escrow already paid out", ErrInvalidTransition)
		}
		if c.Escrow.PayoutPending {
			return fmt.Errorf("%w: payout already in progress", ErrInvalidTransition)
		}
		c.Escrow.PayoutPending = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim payout: %w", mapStoreErr(err))
	}

	hash, err := m.payments.Pay(ctx, invoice)
	if err != nil {
		m.logger.Error("payout failed",
			zap.String("challenge_id", c.ID.String()),
			zap.Error(err),
		)
		released, rerr := m.store.Update(context.WithoutCancel(ctx), id, func(c *model.Challenge) error {
			c.Escrow.PayoutPending = false
			return nil
		})
		if rerr != nil {
			m.logger.Error("release payout claim failed",
				zap.String("challenge_id", c.ID.String()),
				zap.Error(rerr),
			)
			return c, fmt.Errorf("%w: pay out: %v", ErrPayment, err)
		}
		return released, fmt.Errorf("%w: pay out: %v", ErrPayment, err)
	}

	c, err = m.store.Update(context.WithoutCancel(ctx), id, func(c *model.Challenge) error {
		c.Escrow.PayoutHash = hash
		c.Escrow.PayoutPending = false
		return nil
	})
	if err != nil {
		m.logger.Error("payout sent but not recorded",
			zap.String("challenge_id", id.String()),
			zap.String("payment_hash", hash),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record payout: %w", mapStoreErr(err))
	}
	m.appendLedger(ctx, c.ID, ledger.ActionPayout, actor, map[string]any{
		"outcome":      c.Status,
		"payment_hash": hash,
	})
	return c, nil
}

// NeedingCheck returns active challenges whose end date has passed. They are
// waiting for an outcome.
func (m *Manager) NeedingCheck(ctx context.Context) ([]*model.Challenge, error) {
	out, err := m.store.NeedingCheck(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("list challenges needing check: %w", err)
	}
	return out, nil
}

// Delete removes a challenge. It is an administrative operation.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get challenge: %w", mapStoreErr(err))
	}
	m.cancelAll(c)
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete challenge: %w", mapStoreErr(err))
	}
	m.appendLedger(ctx, id, ledger.ActionDelete, actor, map[string]any{"owner": c.Owner, "status": c.Status})
	return nil
}

// Get returns a challenge by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", mapStoreErr(err))
	}
	return c, nil
}

// List returns challenges matching f.
func (m *Manager) List(ctx context.Context, f repository.ListFilter) ([]*model.Challenge, error) {
	out, err := m.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	return out, nil
}

// LatestByOwner returns the owner's open challenge, or their most recent one.
func (m *Manager) LatestByOwner(ctx context.Context, owner string) (*model.Challenge, error) {
	c, err := m.store.LatestByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("get owner challenge: %w", mapStoreErr(err))
	}
	return c, nil
}

// ExpireStale expires bounty challenges that received no paid pledge within
// the pledge window and have no pledge invoice still outstanding.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	pending, err := m.store.List(ctx, repository.ListFilter{Status: model.StatusPendingPayment, Kind: model.KindBounty, Limit: 1000})
	if err != nil {
		return 0, fmt.Errorf("list pending bounties: %w", err)
	}
	n := 0
	for _, c := range pending {
		if !m.stale(c, m.now()) {
			continue
		}
		if _, err := m.expireIfStale(ctx, c.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrChallengeNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// stale reports whether a pending bounty has outlived the pledge window with
// no pledge invoice outstanding.
func (m *Manager) stale(c *model.Challenge, now time.Time) bool {
	return c.Kind == model.KindBounty &&
		c.Status == model.StatusPendingPayment &&
		now.Sub(c.CreatedAt) >= m.cfg.PledgeWindow &&
		!hasOutstandingPledge(c)
}

// expireIfStale expires the challenge only if it is still stale under the
// store's per-challenge lock. A pledge recorded since the sweep's snapshot
// keeps it pending.
func (m *Manager) expireIfStale(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	c, err := m.store.Update(ctx, id, func(c *model.Challenge) error {
		now := m.now()
		if !m.stale(c, now) {
			return fmt.Errorf("%w: bounty is no longer stale", ErrInvalidTransition)
		}
		return c.Expire(now)
	})
	if err != nil {
		return nil, fmt.Errorf("expire challenge: %w", mapStoreErr(err))
	}
	m.cancelAll(c)
	m.appendLedger(ctx, c.ID, ledger.ActionExpire, ledger.SystemActor, nil)
	m.logger.Info("challenge expired", zap.String("challenge_id", c.ID.String()))
	return c, nil
}

// Restore re-registers payment watches for every invoice still awaiting
// payment. It is called once at startup.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	pending, err := m.store.List(ctx, repository.ListFilter{Status: model.StatusPendingPayment, Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("list pending challenges: %w", err)
	}
	active, err := m.store.List(ctx, repository.ListFilter{Status: model.StatusActive, Kind: model.KindBounty, Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("list active bounties: %w", err)
	}

	n := 0
	for _, c := range append(pending, active...) {
		if c.AwaitingPayment(c.Escrow.PaymentHash) {
			m.watch(Watch{ChallengeID: c.ID, PaymentHash: c.Escrow.PaymentHash, Purpose: PurposeEscrow})
			n++
		}
		if c.Bounty == nil {
			continue
		}
		for _, p := range c.Bounty.Pledges {
			if !p.Paid {
				m.watch(Watch{ChallengeID: c.ID, PaymentHash: p.PaymentHash, Purpose: PurposePledge})
				n++
			}
		}
	}
	return n, nil
}

// IsAwaiting reports whether the watched invoice is still unpaid on an open
// challenge.
func (m *Manager) IsAwaiting(ctx context.Context, w Watch) (bool, error) {
	c, err := m.store.Get(ctx, w.ChallengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return c.AwaitingPayment(w.PaymentHash), nil
}

// OnInvoicePaid activates the challenge for an escrow invoice, or credits the
// pledge for a pledge invoice. The first paid pledge activates a pending
// bounty challenge.
func (m *Manager) OnInvoicePaid(ctx context.Context, w Watch, confirmationID string) error {
	if w.Purpose == PurposeEscrow {
		_, err := m.Activate(ctx, w.ChallengeID, confirmationID, ledger.SystemActor)
		return err
	}

	var activated bool
	var pledge model.Pledge
	now := m.now()
	c, err := m.store.Update(ctx, w.ChallengeID, func(c *model.Challenge) error {
		if c.Bounty == nil {
			return ErrNoPledgeTarget
		}
		p, ok := c.Bounty.Pledge(w.PaymentHash)
		if !ok || p.Paid {
			return fmt.Errorf("%w: pledge %s is not awaiting payment", ErrInvalidTransition, w.PaymentHash)
		}
		p.Paid = true
		p.PaidAt = &now
		c.Bounty.AmountSats += p.AmountSats
		pledge = *p
		if c.Status == model.StatusPendingPayment {
			if err := c.Activate(now, confirmationID); err != nil {
				return err
			}
			c.Escrow.PaymentHash = w.PaymentHash
			activated = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("credit pledge: %w", mapStoreErr(err))
	}

	m.appendLedger(ctx, c.ID, ledger.ActionPledge, pledge.Contributor, map[string]any{
		"amount_sats":  pledge.AmountSats,
		"payment_hash": pledge.PaymentHash,
		"paid":         true,
	})
	if activated {
		m.appendLedger(ctx, c.ID, ledger.ActionActivate, ledger.SystemActor, map[string]any{
			"confirmation_id": confirmationID,
			"end_date":        c.Duration.EndDate,
		})
	}
	m.logger.Info("bounty pledge paid",
		zap.String("challenge_id", c.ID.String()),
		zap.String("contributor", pledge.Contributor),
		zap.Int64("pool_sats", c.Bounty.AmountSats),
		zap.Bool("activated", activated),
	)
	return nil
}

// OnInvoiceExpired expires the challenge for an escrow invoice. An expired
// pledge invoice only drops that pledge.
func (m *Manager) OnInvoiceExpired(ctx context.Context, w Watch) error {
	if w.Purpose == PurposeEscrow {
		_, err := m.Expire(ctx, w.ChallengeID, ledger.SystemActor)
		return err
	}

	_, err := m.store.Update(ctx, w.ChallengeID, func(c *model.Challenge) error {
		if c.Bounty == nil {
			return ErrNoPledgeTarget
		}
		kept := c.Bounty.Pledges[:0]
		for _, p := range c.Bounty.Pledges {
			if p.PaymentHash == w.PaymentHash && !p.Paid {
				continue
			}
			kept = append(kept, p)
		}
		c.Bounty.Pledges = kept
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop pledge: %w", mapStoreErr(err))
	}
	m.logger.Info("bounty pledge invoice expired",
		zap.String("challenge_id", w.ChallengeID.String()),
		zap.String("payment_hash", w.PaymentHash),
	)
	return nil
}

func (m *Manager) cancelAll(c *model.Challenge) {
	m.cancelWatch(c.Escrow.PaymentHash)
	if c.Bounty == nil {
		return
	}
	for _, p := range c.Bounty.Pledges {
		if !p.Paid {
			m.cancelWatch(p.PaymentHash)
		}
	}
}

func hasOutstandingPledge(c *model.Challenge) bool {
	if c.Bounty == nil {
		return false
	}
	for _, p := range c.Bounty.Pledges {
		if !p.Paid {
			return true
		}
	}
	return false
}
