package transport

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes replies to the log instead of sending them. It is used
// when no bridge is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, r Reply) (int, error) {
	p.logger.Info("reply (no bridge configured)",
		zap.String("in_reply_to", r.InReplyTo),
		zap.String("recipient", r.Recipient),
		zap.String("text", r.Text),
	)
	return 1, nil
}
