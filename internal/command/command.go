// Package command turns free-text mentions into typed bot commands.
//
// Resolution is a fixed pipeline: Normalize → Classifier → Extractor →
// Score + Validator. It performs no I/O and never returns an error; failures
// are reported as an error-kind ParsedCommand carrying human-readable reasons.
package command

import (
	"errors"
	"fmt"
	"strings"
)

// Intent is the classified command category of a message.
type Intent string

const (
	IntentCreatePenalty  Intent = "create_penalty_challenge"
	IntentCreateBounty   Intent = "create_bounty_challenge"
	IntentSetBounty      Intent = "set_bounty"
	IntentGetStatus      Intent = "get_status"
	IntentGetLeaderboard Intent = "get_leaderboard"
	IntentShowHelp       Intent = "show_help"
	IntentError          Intent = "error"
)

// Utility reports whether the intent is a fixed-confidence utility command.
func (i Intent) Utility() bool {
	switch i {
	case IntentSetBounty, IntentGetStatus, IntentGetLeaderboard, IntentShowHelp:
		return true
	}
	return false
}

// ErrorKind distinguishes the two recoverable resolution failures.
type ErrorKind string

const (
	ErrorNoIntent   ErrorKind = "no_intent_match"
	ErrorValidation ErrorKind = "validation"
)

// Sentinel errors returned by ParsedCommand.Err.
var (
	ErrNoIntentMatch = errors.New("no intent matched")
	ErrValidation    = errors.New("command validation failed")
)

// Params holds the entities extracted for a command. Only the fields that
// apply to the resolved intent are populated.
type Params struct {
	Exercise            string `json:"exercise,omitempty"`
	ExerciseType        string `json:"exercise_type,omitempty"`
	ExerciseCount       int    `json:"exercise_count,omitempty"`
	Frequency           string `json:"frequency,omitempty"`
	Duration            int    `json:"duration,omitempty"`
	PenaltyAmount       int64  `json:"penalty_amount,omitempty"`
	PenaltyRecipient    string `json:"penalty_recipient,omitempty"`
	PenaltyRecipientKey string `json:"penalty_recipient_key,omitempty"`
	Amount              int64  `json:"amount,omitempty"`
	FullDescription     string `json:"full_description,omitempty"`
}

// Missing flags the elements a non-matching message lacks.
type Missing struct {
	Numbers   bool `json:"numbers"`
	Duration  bool `json:"duration"`
	Amount    bool `json:"amount"`
	Recipient bool `json:"recipient"`
}

// ParsedCommand is the transient result of resolving one message.
type ParsedCommand struct {
	Command       Intent    `json:"command"`
	Params        Params    `json:"params"`
	Confidence    float64   `json:"confidence"`
	OriginalMatch string    `json:"original_match"`
	RuleID        string    `json:"rule_id,omitempty"`
	Kind          ErrorKind `json:"error_kind,omitempty"`
	Errors        []string  `json:"errors,omitempty"`
	Missing       *Missing  `json:"missing,omitempty"`
}

// IsError reports whether resolution failed.
func (p *ParsedCommand) IsError() bool {
	return p.Command == IntentError
}

// Err returns the failure as a wrapped sentinel error, or nil on success.
func (p *ParsedCommand) Err() error {
	if !p.IsError() {
		return nil
	}
	base := ErrValidation
	if p.Kind == ErrorNoIntent {
		base = ErrNoIntentMatch
	}
	if len(p.Errors) == 0 {
		return base
	}
	return fmt.Errorf("%w: %s", base, strings.Join(p.Errors, "; "))
}

// Limits bounds the numeric fields accepted by the Validator.
type Limits struct {
	MinDuration     int
	MaxDuration     int
	DefaultDuration int
	MinPenalty      int64
	MaxPenalty      int64
	MinBounty       int64
}

// DefaultLimits returns the production bounds.
func DefaultLimits() Limits {
	return Limits{
		MinDuration:     1,
		MaxDuration:     365,
		DefaultDuration: 3,
		MinPenalty:      1,
		MaxPenalty:      100000,
		MinBounty:       1,
	}
}
