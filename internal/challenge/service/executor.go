package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/command"
	"github.com/fitbounty/fitbounty/internal/payment"
)

// Response types.
const (
	ResponsePenaltyCreated = "penalty_bet_created"
	ResponseBountyCreated  = "bounty_challenge_created"
	ResponseBountySet      = "bounty_set"
	ResponseStatus         = "challenge_status"
	ResponseNoChallenge    = "no_challenge"
	ResponseLeaderboard    = "leaderboard"
	ResponseHelp           = "help"
	ResponseError          = "error"
)

// Response is the outcome of executing a command.
type Response struct {
	Type        string           `json:"type"`
	Message     string           `json:"message"`
	ShouldReply bool             `json:"should_reply"`
	Challenge   *model.Challenge `json:"challenge,omitempty"`
	Invoice     *payment.Invoice `json:"invoice,omitempty"`
	Leaderboard *Leaderboard     `json:"leaderboard,omitempty"`
	Errors      []string         `json:"errors,omitempty"`
}

// CommandRecordFunc is an optional callback for recording executed commands
// by intent and response type.
type CommandRecordFunc func(intent, responseType string)

// Executor dispatches resolved commands to the Manager and renders replies.
type Executor struct {
	mgr      *Manager
	handle   string
	topN     int
	onRecord CommandRecordFunc
	logger   *zap.Logger
}

// NewExecutor creates an Executor. handle is the bot mention used in reply
// text.
func NewExecutor(mgr *Manager, handle string, logger *zap.Logger) *Executor {
	if handle == "" {
		handle = command.DefaultHandle
	}
	return &Executor{mgr: mgr, handle: handle, topN: 3, logger: logger}
}

// SetCommandRecord configures the metrics recording callback.
func (e *Executor) SetCommandRecord(fn CommandRecordFunc) {
	e.onRecord = fn
}

// Execute runs cmd on behalf of o. It never fails: errors become an error
// Response with a user-facing message.
func (e *Executor) Execute(ctx context.Context, cmd *command.ParsedCommand, o Origin) *Response {
	resp := e.execute(ctx, cmd, o)
	if e.onRecord != nil {
		e.onRecord(string(cmd.Command), resp.Type)
	}
	return resp
}

func (e *Executor) execute(ctx context.Context, cmd *command.ParsedCommand, o Origin) *Response {
	if cmd.IsError() {
		heading := "🤖 I couldn't create that challenge:"
		if cmd.Kind == command.ErrorNoIntent {
			heading = "🤖 I couldn't understand that request:"
		}
		return &Response{
			Type:        ResponseError,
			Message:     resolutionErrorMessage(heading, cmd.Errors, e.handle),
			ShouldReply: true,
			Errors:      cmd.Errors,
		}
	}

	e.logger.Info("executing command",
		zap.String("command", string(cmd.Command)),
		zap.String("rule", cmd.RuleID),
		zap.Float64("confidence", cmd.Confidence),
		zap.String("sender", o.Sender),
	)

	switch cmd.Command {
	case command.IntentCreatePenalty:
		c, inv, err := e.mgr.CreatePenalty(ctx, o, cmd.Params)
		if err != nil {
			return e.failure(cmd, err)
		}
		return &Response{Type: ResponsePenaltyCreated, Message: penaltyCreatedMessage(c, inv, e.mgr.cfg.InvoiceExpiry), ShouldReply: true, Challenge: c, Invoice: inv}

	case command.IntentCreateBounty:
		c, err := e.mgr.CreateBounty(ctx, o, cmd.Params)
		if err != nil {
			return e.failure(cmd, err)
		}
		return &Response{Type: ResponseBountyCreated, Message: bountyCreatedMessage(c, e.handle), ShouldReply: true, Challenge: c}

	case command.IntentSetBounty:
		c, inv, err := e.mgr.Pledge(ctx, o, cmd.Params.Amount)
		if err != nil {
			return e.failure(cmd, err)
		}
		return &Response{Type: ResponseBountySet, Message: pledgeMessage(cmd.Params.Amount, inv), ShouldReply: true, Challenge: c, Invoice: inv}

	case command.IntentGetStatus:
		c, err := e.mgr.LatestByOwner(ctx, o.Sender)
		if errors.Is(err, ErrChallengeNotFound) {
			return &Response{Type: ResponseNoChallenge, Message: noChallengeMessage(e.handle), ShouldReply: true}
		}
		if err != nil {
			return e.failure(cmd, err)
		}
		return &Response{Type: ResponseStatus, Message: statusMessage(c), ShouldReply: true, Challenge: c}

	case command.IntentGetLeaderboard:
		lb, err := e.mgr.Leaderboard(ctx, e.topN)
		if err != nil {
			return e.failure(cmd, err)
		}
		return &Response{Type: ResponseLeaderboard, Message: leaderboardMessage(lb), ShouldReply: true, Leaderboard: lb}

	case command.IntentShowHelp:
		return &Response{Type: ResponseHelp, Message: helpMessage(e.handle), ShouldReply: true}
	}

	e.logger.Error("no executor for resolved command",
		zap.String("command", string(cmd.Command)),
		zap.Error(ErrUnknownCommand),
	)
	return &Response{Type: ResponseError, Message: unknownCommandMessage(e.handle), ShouldReply: true}
}

func (e *Executor) failure(cmd *command.ParsedCommand, err error) *Response {
	resp := &Response{Type: ResponseError, ShouldReply: true, Errors: []string{err.Error()}}
	switch {
	case errors.Is(err, ErrOpenChallengeExists):
		resp.Message = openChallengeMessage(e.handle)
		e.logger.Warn("owner already has an open challenge", zap.String("command", string(cmd.Command)))
		return resp
	case errors.Is(err, ErrNoPledgeTarget):
		resp.Message = noPledgeTargetMessage
		return resp
	}
	resp.Message = genericErrorMessage
	e.logger.Error("command failed",
		zap.String("command", string(cmd.Command)),
		zap.Error(err),
	)
	return resp
}
