package command

import (
	"fmt"
	"strings"
)

// Validator checks extracted parameters against configured limits.
type Validator struct {
	limits Limits
	bot    map[string]bool
}

// NewValidator returns a Validator. botNames are the bot's own mention names
// (without "@"); a penalty may not be paid to the bot.
func NewValidator(limits Limits, botNames ...string) *Validator {
	bot := make(map[string]bool, len(botNames))
	for _, n := range botNames {
		bot[strings.ToLower(strings.TrimPrefix(n, "@"))] = true
	}
	return &Validator{limits: limits, bot: bot}
}

// Validate returns the human-readable problems with p, or nil when p is a
// valid command of the given intent.
func (v *Validator) Validate(intent Intent, p Params) []string {
	var errs []string
	switch intent {
	case IntentCreatePenalty, IntentCreateBounty:
		errs = v.challenge(p)
		if intent == IntentCreatePenalty {
			errs = append(errs, v.penalty(p)...)
		}
	case IntentSetBounty:
		if p.Amount < v.limits.MinBounty {
			errs = append(errs, fmt.Sprintf("Bounty amount must be at least %d sats", v.limits.MinBounty))
		}
	}
	return errs
}

func (v *Validator) challenge(p Params) []string {
	var errs []string
	if p.ExerciseType == "" {
		errs = append(errs, "Missing exercise type")
	}
	if p.ExerciseCount <= 0 {
		errs = append(errs, "Exercise count must be greater than zero")
	}
	if p.Duration < v.limits.MinDuration || p.Duration > v.limits.MaxDuration {
		errs = append(errs, fmt.Sprintf("Duration must be between %d and %d days", v.limits.MinDuration, v.limits.MaxDuration))
	}
	return errs
}

func (v *Validator) penalty(p Params) []string {
	var errs []string
	if p.PenaltyAmount < v.limits.MinPenalty || p.PenaltyAmount > v.limits.MaxPenalty {
		errs = append(errs, fmt.Sprintf("Penalty amount must be between %d and %d sats", v.limits.MinPenalty, v.limits.MaxPenalty))
	}
	switch {
	case p.PenaltyRecipient == "":
		errs = append(errs, "Missing penalty recipient")
	case v.bot[strings.ToLower(p.PenaltyRecipient)]:
		errs = append(errs, "Penalty recipient cannot be the bot")
	}
	return errs
}
