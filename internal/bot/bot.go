// Package bot ties the pieces together for one inbound mention: duplicate
// suppression, command resolution, execution and the reply.
package bot

import (
	"context"

	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/service"
	"github.com/fitbounty/fitbounty/internal/command"
	"github.com/fitbounty/fitbounty/internal/dedupe"
	"github.com/fitbounty/fitbounty/internal/transport"
)

// executor runs resolved commands. *service.Executor satisfies this interface.
type executor interface {
	Execute(ctx context.Context, cmd *command.ParsedCommand, o service.Origin) *service.Response
}

// ReplyRecordFunc is an optional callback for recording reply outcomes.
type ReplyRecordFunc func(success bool)

// Bot handles inbound mentions.
type Bot struct {
	resolver  *command.Resolver
	exec      executor
	seen      dedupe.Store // nil = no duplicate suppression
	publisher transport.Publisher
	self      string
	onReply   ReplyRecordFunc
	logger    *zap.Logger
}

// New creates a Bot. seen may be nil.
func New(resolver *command.Resolver, exec executor, seen dedupe.Store, publisher transport.Publisher, logger *zap.Logger) *Bot {
	return &Bot{
		resolver:  resolver,
		exec:      exec,
		seen:      seen,
		publisher: publisher,
		logger:    logger,
	}
}

// SetSelf configures the bot's own identity; its messages are ignored.
func (b *Bot) SetSelf(identity string) {
	b.self = identity
}

// SetReplyRecord configures the metrics recording callback.
func (b *Bot) SetReplyRecord(fn ReplyRecordFunc) {
	b.onReply = fn
}

// HandleMention processes one mention and returns the command response. It
// returns nil for messages that do not address the bot, the bot's own
// messages and duplicate deliveries. A failed reply is logged and does not
// undo the command.
func (b *Bot) HandleMention(ctx context.Context, m transport.Mention) *service.Response {
	log := b.logger.With(zap.String("message_id", m.ID), zap.String("sender", m.Sender))

	if b.self != "" && m.Sender == b.self {
		return nil
	}
	cmd := b.resolver.Resolve(m.Text, m.Tags)
	if cmd == nil {
		return nil
	}

	if b.seen != nil && m.ID != "" {
		first, err := b.seen.FirstSeen(ctx, m.ID)
		if err != nil {
			log.Warn("dedupe check failed, processing anyway", zap.Error(err))
		} else if !first {
			log.Debug("duplicate mention ignored")
			return nil
		}
	}

	resp := b.exec.Execute(ctx, cmd, service.Origin{
		Sender:    m.Sender,
		MessageID: m.ID,
		Relay:     m.Relay,
		Text:      m.Text,
		ReplyTo:   m.FirstTag("e"),
	})
	if !resp.ShouldReply {
		return resp
	}

	accepted, err := b.publisher.Publish(ctx, transport.Reply{
		InReplyTo: m.ID,
		Recipient: m.Sender,
		Relay:     m.Relay,
		Text:      resp.Message,
	})
	if b.onReply != nil {
		b.onReply(err == nil)
	}
	if err != nil {
		log.Error("reply not delivered", zap.String("response_type", resp.Type), zap.Error(err))
		return resp
	}
	log.Info("replied", zap.String("response_type", resp.Type), zap.Int("relays", accepted))
	return resp
}
