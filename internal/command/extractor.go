package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fitbounty/fitbounty/internal/identity"
)

// Extractor converts a rule match into typed command parameters.
type Extractor struct {
	vocab       *Vocabulary
	botKey      string
	defaultDays int
}

// NewExtractor returns an Extractor. botKey is the bot's own hex public key;
// it is never chosen as a penalty recipient.
func NewExtractor(vocab *Vocabulary, botKey string, defaultDays int) *Extractor {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Extractor{vocab: vocab, botKey: strings.ToLower(botKey), defaultDays: defaultDays}
}

// Extract fills Params from m. tags are the source event's tags, used to
// resolve a bare @handle to a public key.
func (e *Extractor) Extract(m *Match, tags [][]string) Params {
	c := m.Captures
	var p Params

	switch m.Rule.Intent {
	case IntentSetBounty:
		p.Amount = parseAmount(c[SlotBountyAmount])
		return p
	case IntentCreatePenalty, IntentCreateBounty:
	default:
		return p
	}

	p.ExerciseCount = parseCount(c[SlotCount])
	if phrase := strings.TrimSpace(c[SlotExercise]); phrase != "" {
		p.ExerciseType = e.vocab.Normalize(phrase)
	}
	p.Frequency = frequencyLabel(c[SlotFrequency])
	p.Duration = e.durationDays(c[SlotDurationValue], c[SlotDurationUnit])
	p.Exercise = fmt.Sprintf("%d %s", p.ExerciseCount, p.ExerciseType)
	p.FullDescription = fmt.Sprintf("%d %s %s for %d days", p.ExerciseCount, p.ExerciseType, p.Frequency, p.Duration)

	if m.Rule.Intent == IntentCreatePenalty {
		p.PenaltyAmount = parseAmount(c[SlotPenaltyAmount])
		p.PenaltyRecipient = trimMention(c[SlotRecipient])
		p.PenaltyRecipientKey = e.recipientKey(p.PenaltyRecipient, tags)
	}
	return p
}

func (e *Extractor) durationDays(value, unit string) int {
	value, unit = strings.TrimSpace(value), strings.TrimSpace(unit)
	if value == "" && unit == "" {
		return e.defaultDays
	}
	n := 1
	if value != "" {
		n = parseCount(value)
	}
	return DurationDays(n, unit)
}

// DurationDays converts a magnitude and unit to days. Weeks are 7 days and
// months 30; any other unit is taken as days. A magnitude whose day count
// would overflow int yields -1, which no duration limit accepts.
func DurationDays(n int, unit string) int {
	per := 1
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "week", "weeks", "wk", "wks", "w":
		per = 7
	case "month", "months", "mo", "mos", "m":
		per = 30
	}
	if n > math.MaxInt/per || n < math.MinInt/per {
		return -1
	}
	return n * per
}

func frequencyLabel(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "week", "weekly":
		return "weekly"
	default:
		return "daily"
	}
}

// recipientKey resolves the penalty recipient to a hex public key: an encoded
// profile token decodes directly, otherwise the first "p" tag that is not the
// bot is used. An empty result means the key is unknown.
func (e *Extractor) recipientKey(recipient string, tags [][]string) string {
	if recipient == "" {
		return ""
	}
	if identity.IsProfileToken(recipient) {
		key, err := identity.DecodeProfileKey(recipient)
		if err != nil {
			return ""
		}
		return key
	}
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		key := strings.ToLower(tag[1])
		if identity.IsHexKey(key) && key != e.botKey {
			return key
		}
	}
	return ""
}

func trimMention(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.TrimPrefix(s, "nostr:")
}

func parseCount(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseAmount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
