package command

import (
	"regexp"
	"strings"
)

// Match is the winning rule together with its captured slot values.
type Match struct {
	Rule     *Rule
	Text     string
	Captures map[Slot]string
}

// Filled returns the number of slots that captured non-empty text.
func (m *Match) Filled() int {
	n := 0
	for _, v := range m.Captures {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// Classifier selects the first matching rule across ordered rule groups.
type Classifier struct {
	groups   [][]*Rule
	mentions []string
}

// NewClassifier builds a classifier gated on the given mention tokens. A
// message must contain at least one token (case-insensitive) to be classified.
func NewClassifier(groups [][]*Rule, mentions ...string) *Classifier {
	m := make([]string, 0, len(mentions))
	for _, t := range mentions {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			m = append(m, t)
		}
	}
	return &Classifier{groups: groups, mentions: m}
}

// Mentioned reports whether normalized text addresses the bot.
func (c *Classifier) Mentioned(normalized string) bool {
	for _, t := range c.mentions {
		if strings.Contains(normalized, t) {
			return true
		}
	}
	return false
}

// Classify returns the first rule in group order that matches normalized
// text. ok is false when the text is not addressed to the bot or no rule
// matches.
func (c *Classifier) Classify(normalized string) (m *Match, ok bool) {
	if !c.Mentioned(normalized) {
		return nil, false
	}
	for _, group := range c.groups {
		for _, rule := range group {
			sub := rule.Pattern.FindStringSubmatch(normalized)
			if sub == nil {
				continue
			}
			captures := make(map[Slot]string, len(rule.Slots))
			for i, slot := range rule.Slots {
				captures[slot] = sub[i+1]
			}
			return &Match{Rule: rule, Text: sub[0], Captures: captures}, true
		}
	}
	return nil, false
}

var (
	digitsRe       = regexp.MustCompile(`\d+`)
	durationWordRe = regexp.MustCompile(`\b(?:days?|weeks?|wks?|months?)\b`)
	satsWordRe     = regexp.MustCompile(`\d+\s*(?:sats?|satoshis?|bitcoin)`)
	penaltyVerbRe  = regexp.MustCompile(`\b(?:owe|pay|gets|receives)\b`)
	mentionTokenRe = regexp.MustCompile(`@\w+|nostr:n(?:pub|profile)1[0-9a-z]+`)
)

// Diagnose explains why normalized text failed to match any rule. botTokens
// are excluded when looking for a friend mention.
func Diagnose(normalized string, botTokens ...string) (*Missing, []string) {
	miss := &Missing{}
	var errs []string

	if !digitsRe.MatchString(normalized) {
		miss.Numbers = true
		errs = append(errs, "Missing numbers (exercise count, duration, or penalty amount)")
	}
	if !durationWordRe.MatchString(normalized) {
		miss.Duration = true
		errs = append(errs, `Missing duration (e.g., "7 days", "2 weeks")`)
	}
	if penaltyVerbRe.MatchString(normalized) {
		if !satsWordRe.MatchString(normalized) {
			miss.Amount = true
			errs = append(errs, "Missing penalty amount in sats")
		}
		if !hasFriendMention(normalized, botTokens) {
			miss.Recipient = true
			errs = append(errs, "Missing friend mention (@username)")
		}
	}
	if len(errs) == 0 {
		errs = append(errs, "Could not recognise the command format")
	}
	return miss, errs
}

func hasFriendMention(normalized string, botTokens []string) bool {
	for _, tok := range mentionTokenRe.FindAllString(normalized, -1) {
		bot := false
		for _, b := range botTokens {
			if strings.EqualFold(tok, b) {
				bot = true
				break
			}
		}
		if !bot {
			return true
		}
	}
	return false
}
