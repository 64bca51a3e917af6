package bot_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fitbounty/fitbounty/internal/bot"
	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/challenge/repository"
	"github.com/fitbounty/fitbounty/internal/challenge/service"
	"github.com/fitbounty/fitbounty/internal/command"
	"github.com/fitbounty/fitbounty/internal/dedupe"
	"github.com/fitbounty/fitbounty/internal/payment"
	"github.com/fitbounty/fitbounty/internal/transport"
)

// ── In-memory stub publisher ──────────────────────────────────────────────

type stubPublisher struct {
	mu      sync.Mutex
	replies []transport.Reply
	err     error
}

func (p *stubPublisher) Publish(_ context.Context, r transport.Reply) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.replies = append(p.replies, r)
	return 2, nil
}

// ── Tests ─────────────────────────────────────────────────────────────────

type harness struct {
	bot       *bot.Bot
	mgr       *service.Manager
	publisher *stubPublisher
}

func newHarness(logger *zap.Logger) *harness {
	store := repository.NewMemoryStore()
	mgr := service.NewManager(store, payment.NewMemoryClient(), nil, service.DefaultConfig(), logger)
	exec := service.NewExecutor(mgr, "@fitbounty", logger)
	pub := &stubPublisher{}
	b := bot.New(command.NewResolver(command.Config{}), exec, dedupe.NewMemoryStore(time.Hour), pub, logger)
	b.SetSelf("botkey")
	return &harness{bot: b, mgr: mgr, publisher: pub}
}

func mention(id, text string) transport.Mention {
	return transport.Mention{ID: id, Text: text, Sender: "owner1", Relay: "wss://relay.example"}
}

func TestHandleMention_createsChallengeAndReplies(t *testing.T) {
	h := newHarness(zap.NewNop())
	ctx := context.Background()

	resp := h.bot.HandleMention(ctx, mention("evt1", "I have to do 20 pushups for 7 days OR I owe @alice 1000 sats @fitbounty"))
	if resp == nil || resp.Type != service.ResponsePenaltyCreated {
		t.Fatalf("response = %+v", resp)
	}
	if len(h.publisher.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(h.publisher.replies))
	}
	r := h.publisher.replies[0]
	if r.InReplyTo != "evt1" || r.Recipient != "owner1" || r.Text != resp.Message {
		t.Errorf("reply = %+v", r)
	}
}

func TestHandleMention_ignored(t *testing.T) {
	h := newHarness(zap.NewNop())
	ctx := context.Background()

	if resp := h.bot.HandleMention(ctx, mention("evt1", "just a post about pushups")); resp != nil {
		t.Errorf("unaddressed post produced %+v", resp)
	}
	self := mention("evt2", "@fitbounty help")
	self.Sender = "botkey"
	if resp := h.bot.HandleMention(ctx, self); resp != nil {
		t.Errorf("own message produced %+v", resp)
	}
	if len(h.publisher.replies) != 0 {
		t.Errorf("replies = %d, want 0", len(h.publisher.replies))
	}
}

func TestHandleMention_duplicateDelivery(t *testing.T) {
	h := newHarness(zap.NewNop())
	ctx := context.Background()
	m := mention("evt1", "I have to do 20 pushups for 7 days OR I owe @alice 1000 sats @fitbounty")

	if resp := h.bot.HandleMention(ctx, m); resp == nil {
		t.Fatal("first delivery ignored")
	}
	if resp := h.bot.HandleMention(ctx, m); resp != nil {
		t.Errorf("second delivery produced %+v", resp)
	}
	if len(h.publisher.replies) != 1 {
		t.Errorf("replies = %d, want 1", len(h.publisher.replies))
	}
}

func TestHandleMention_publishFailureKeepsChallenge(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := newHarness(zap.New(core))
	h.publisher.err = transport.ErrPublish

	var outcomes []bool
	h.bot.SetReplyRecord(func(ok bool) { outcomes = append(outcomes, ok) })

	resp := h.bot.HandleMention(context.Background(), mention("evt1", "I have to do 20 pushups for 7 days OR I owe @alice 1000 sats @fitbounty"))
	if resp == nil || resp.Challenge == nil {
		t.Fatalf("response = %+v", resp)
	}
	c, err := h.mgr.Get(context.Background(), resp.Challenge.ID)
	if err != nil || c.Status != model.StatusPendingPayment {
		t.Errorf("challenge after failed reply: %v, %v", c, err)
	}
	if logs.FilterMessage("reply not delivered").Len() != 1 {
		t.Error("expected the failed reply to be logged")
	}
	if len(outcomes) != 1 || outcomes[0] {
		t.Errorf("reply outcomes = %v", outcomes)
	}
}

func TestHandleMention_pledgeUsesReplyTarget(t *testing.T) {
	h := newHarness(zap.NewNop())
	ctx := context.Background()

	h.bot.HandleMention(ctx, mention("evt-b", "I want to do 50 squats daily for 5 days @fitbounty"))

	pledge := mention("evt-p", "@fitbounty bounty 500 sats")
	pledge.Sender = "friend"
	pledge.Tags = [][]string{{"e", "evt-b", "", "root"}, {"p", "owner1"}}
	resp := h.bot.HandleMention(ctx, pledge)
	if resp == nil || resp.Type != service.ResponseBountySet {
		t.Fatalf("pledge response = %+v", resp)
	}
	if resp.Challenge.Bounty == nil || len(resp.Challenge.Bounty.Pledges) != 1 {
		t.Errorf("bounty = %+v", resp.Challenge.Bounty)
	}
}

// ── Failing dedupe store ──────────────────────────────────────────────────

type brokenDedupe struct{}

func (brokenDedupe) FirstSeen(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestHandleMention_dedupeFailureProcesses(t *testing.T) {
	store := repository.NewMemoryStore()
	mgr := service.NewManager(store, payment.NewMemoryClient(), nil, service.DefaultConfig(), zap.NewNop())
	pub := &stubPublisher{}
	b := bot.New(command.NewResolver(command.Config{}), service.NewExecutor(mgr, "@fitbounty", zap.NewNop()), brokenDedupe{}, pub, zap.NewNop())

	if resp := b.HandleMention(context.Background(), mention("evt1", "@fitbounty help")); resp == nil || resp.Type != service.ResponseHelp {
		t.Errorf("response = %+v", resp)
	}
}
