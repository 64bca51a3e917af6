package command

import (
	"fmt"
	"regexp"
	"strings"
)

// Slot names a typed entity captured by a rule's pattern.
type Slot string

const (
	SlotCount         Slot = "exercise_count"
	SlotExercise      Slot = "exercise"
	SlotFrequency     Slot = "frequency"
	SlotDurationValue Slot = "duration_value"
	SlotDurationUnit  Slot = "duration_unit"
	SlotRecipient     Slot = "recipient"
	SlotPenaltyAmount Slot = "penalty_amount"
	SlotCurrency      Slot = "currency"
	SlotBountyAmount  Slot = "bounty_amount"
)

// Rule is one recognisable phrasing of an intent. Slots declares, in order,
// which entity each capture group of Pattern holds.
type Rule struct {
	ID      string
	Intent  Intent
	Pattern *regexp.Regexp
	Slots   []Slot
	// Wildcard marks patterns that skip arbitrary text between slots.
	Wildcard bool
}

// NewRule compiles a case-insensitive rule and checks that every capture
// group has a declared slot.
func NewRule(id string, intent Intent, pattern string, wildcard bool, slots ...Slot) (*Rule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	if re.NumSubexp() != len(slots) {
		return nil, fmt.Errorf("rule %s: pattern has %d groups, %d slots declared", id, re.NumSubexp(), len(slots))
	}
	return &Rule{ID: id, Intent: intent, Pattern: re, Slots: slots, Wildcard: wildcard}, nil
}

func mustRule(id string, intent Intent, pattern string, wildcard bool, slots ...Slot) *Rule {
	r, err := NewRule(id, intent, pattern, wildcard, slots...)
	if err != nil {
		panic(err)
	}
	return r
}

const (
	countFrag     = `(\d+)`
	exerciseFrag  = `([a-z\s-]+?)`
	unitFrag      = `(days?|weeks?|wks?|months?)`
	recipientFrag = `(@\w+|nostr:n(?:pub|profile)1[0-9a-z]+)`
	satsFrag      = `(\d+)\s+(sats?|satoshis?)`
	commitFrag    = `i\s+(?:have\s+to|need\s+to|must|will|gonna)\s+do\s+`
	spanFrag      = `\s+(?:for|daily\s+for|every\s+day\s+for)\s+`
)

// DefaultRules returns the rule groups in classification priority order.
// handle is the bot's mention handle, for example "@fitbounty".
func DefaultRules(handle string) [][]*Rule {
	h := regexp.QuoteMeta(strings.ToLower(handle))

	penalty := []*Rule{
		mustRule("penalty-per-period", IntentCreatePenalty,
			commitFrag+countFrag+`\s+`+exerciseFrag+`\s+(?:per|a|each|every)\s+(day|week)\s+for\s+(\d+)\s+`+unitFrag+
				`\s+(?:or|otherwise)\s+i\s+(?:owe|pay|send|give)\s+`+recipientFrag+`\s+`+satsFrag,
			false, SlotCount, SlotExercise, SlotFrequency, SlotDurationValue, SlotDurationUnit, SlotRecipient, SlotPenaltyAmount, SlotCurrency),
		mustRule("penalty-or-i-owe", IntentCreatePenalty,
			commitFrag+countFrag+`\s+`+exerciseFrag+spanFrag+`(\d+)\s+`+unitFrag+
				`\s+(?:or|otherwise)\s+i\s+(?:owe|pay|send|give)\s+`+recipientFrag+`\s+`+satsFrag,
			false, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit, SlotRecipient, SlotPenaltyAmount, SlotCurrency),
		mustRule("penalty-if-not", IntentCreatePenalty,
			`if\s+i\s+(?:do\s+not|fail\s+to)\s+do\s+`+countFrag+`\s+`+exerciseFrag+spanFrag+`(?:(\d+)|an?)\s+`+unitFrag+
				`\s*,?\s*`+recipientFrag+`\s+(?:gets|receives)\s+`+satsFrag,
			false, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit, SlotRecipient, SlotPenaltyAmount, SlotCurrency),
		mustRule("penalty-daily-or-gets", IntentCreatePenalty,
			countFrag+`\s+`+exerciseFrag+`\s+(?:daily|every\s+day)\s+for\s+(\d+)\s+`+unitFrag+
				`\s+(?:or|otherwise)\s+`+recipientFrag+`\s+(?:gets|receives)\s+`+satsFrag,
			false, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit, SlotRecipient, SlotPenaltyAmount, SlotCurrency),
		mustRule("penalty-daily-a-unit", IntentCreatePenalty,
			countFrag+`\s+`+exerciseFrag+`\s+(?:daily|every\s+day)\s+for\s+(?:an?\s+)?(week|month)\s+(?:or|otherwise)\s+`+
				recipientFrag+`\s+(?:gets|receives)\s+`+satsFrag,
			false, SlotCount, SlotExercise, SlotDurationUnit, SlotRecipient, SlotPenaltyAmount, SlotCurrency),
		mustRule("penalty-fine-to", IntentCreatePenalty,
			countFrag+`\s+`+exerciseFrag+`\s+for\s+(\d+)\s+`+unitFrag+`\s*,?\s*(?:penalty|fine|cost)\s+`+satsFrag+
				`\s+(?:to|for)\s+`+recipientFrag,
			false, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit, SlotPenaltyAmount, SlotCurrency, SlotRecipient),
		mustRule("penalty-flexible", IntentCreatePenalty,
			`(\d+)\s+(\w+(?:\s+\w+)?)\s+.*?(\d+)\s+(days?|weeks?|months?)\s+.*?`+recipientFrag+`\s+.*?`+satsFrag,
			true, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit, SlotRecipient, SlotPenaltyAmount, SlotCurrency),
	}

	bounty := []*Rule{
		mustRule("bounty-handle-challenge", IntentCreateBounty,
			h+`\s+challenge:?\s*`+countFrag+`\s+`+exerciseFrag+spanFrag+`(\d+)\s+`+unitFrag,
			false, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit),
		mustRule("bounty-i-will-do", IntentCreateBounty,
			`(?:i\s+(?:want\s+to|will|am\s+going\s+to|gonna)\s+do|going\s+to\s+do)\s+`+countFrag+`\s+`+exerciseFrag+spanFrag+
				`(\d+)\s+`+unitFrag+`\s+.*?`+h,
			true, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit),
		mustRule("bounty-challenge", IntentCreateBounty,
			`challenge:?\s*`+countFrag+`\s+`+exerciseFrag+spanFrag+`(\d+)\s+`+unitFrag,
			false, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit),
		mustRule("bounty-daily-bet", IntentCreateBounty,
			countFrag+`\s+`+exerciseFrag+`\s+(?:daily|every\s+day)\s+for\s+(\d+)\s+`+unitFrag+`.*?(?:bet|bounty|pledge)`,
			true, SlotCount, SlotExercise, SlotDurationValue, SlotDurationUnit),
		mustRule("bounty-open-ended", IntentCreateBounty,
			`challenge:?\s*`+countFrag+`\s+`+exerciseFrag+`\s+(?:daily|every\s+day)\b`,
			false, SlotCount, SlotExercise),
	}

	setBounty := []*Rule{
		mustRule("set-bounty-handle", IntentSetBounty, h+`\s+bounty\s+`+satsFrag, false, SlotBountyAmount, SlotCurrency),
		mustRule("set-bounty-pledge", IntentSetBounty,
			`(?:i\s+will\s+(?:put|bet|pledge|add)|bounty)\s+`+satsFrag, false, SlotBountyAmount, SlotCurrency),
		mustRule("set-bounty-bet", IntentSetBounty,
			`(?:i\s+bet|betting|i\s+pledge)\s+`+satsFrag, false, SlotBountyAmount, SlotCurrency),
	}

	status := []*Rule{
		mustRule("status-handle", IntentGetStatus, h+`\s+status\b`, false),
		mustRule("status-question", IntentGetStatus,
			`how'?s?\s+(?:is\s+)?my\s+challenge|show\s+(?:my\s+)?(?:challenge\s+)?(?:status|progress)`, false),
		mustRule("status-check", IntentGetStatus, `what'?s\s+my\s+progress|check\s+my\s+challenge`, false),
	}

	leaderboard := []*Rule{
		mustRule("leaderboard-handle", IntentGetLeaderboard, h+`\s+leaderboard\b`, false),
		mustRule("leaderboard-show", IntentGetLeaderboard, `(?:show\s+)?(?:the\s+)?leaderboard`, false),
		mustRule("leaderboard-top", IntentGetLeaderboard, `top\s+performers`, false),
	}

	help := []*Rule{
		mustRule("help-handle", IntentShowHelp, h+`\s+help\b`, false),
		mustRule("help-question", IntentShowHelp, `how\s+do\s+i\s+use|what\s+(?:can\s+you\s+do|commands)`, false),
		mustRule("help-keyword", IntentShowHelp, `\bhelp\b|\binstructions\b`, false),
	}

	return [][]*Rule{penalty, bounty, setBounty, status, leaderboard, help}
}
