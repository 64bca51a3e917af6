// Package transport is the boundary to the social network relay bridge:
// inbound mentions arrive as Mention values and replies leave through a
// Publisher.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrPublish wraps every reply delivery failure.
var ErrPublish = errors.New("publish reply")

// Mention is one inbound message addressed to the bot.
type Mention struct {
	ID        string     `json:"id"         binding:"required"`
	Text      string     `json:"text"`
	Sender    string     `json:"sender"     binding:"required"`
	Relay     string     `json:"relay"`
	Tags      [][]string `json:"tags"`
	CreatedAt time.Time  `json:"created_at"`
}

// FirstTag returns the value of the first tag named name, or "".
func (m *Mention) FirstTag(name string) string {
	for _, t := range m.Tags {
		if len(t) > 1 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// Reply is an outbound message answering a mention.
type Reply struct {
	InReplyTo string `json:"in_reply_to"`
	Recipient string `json:"recipient"`
	Relay     string `json:"relay,omitempty"`
	Text      string `json:"text"`
}

// Publisher delivers replies. It returns how many destinations accepted the
// reply.
type Publisher interface {
	Publish(ctx context.Context, r Reply) (int, error)
}
