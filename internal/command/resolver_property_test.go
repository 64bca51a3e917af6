//go:build property
// +build property

package command_test

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fitbounty/fitbounty/internal/command"
)

// TestNormalizeIdempotent verifies normalization is a fixed point.
// Property: Normalize(Normalize(s)) == Normalize(s)
func TestNormalizeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	tokens := []interface{}{"I", "don't", "WON'T", "i'll", "20", "pushups", "@fitbounty", "  ", "\t", ";", ",", "!!", "?.", "days", "I'm"}

	properties.Property("Normalize is idempotent", prop.ForAll(
		func(parts []interface{}) bool {
			words := make([]string, len(parts))
			for i, p := range parts {
				words[i] = p.(string)
			}
			once := command.Normalize(strings.Join(words, " "))
			return command.Normalize(once) == once
		},
		gen.SliceOf(gen.OneConstOf(tokens...)),
	))

	properties.TestingRun(t)
}

// TestResolveDeterministic verifies well-formed penalty commands extract
// exactly the numbers they were built from.
// Property: Resolve(format(n, d, a)) carries n, d and a with confidence in (0.5, 1]
func TestResolveDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	r := command.NewResolver(command.Config{})

	properties.Property("penalty parameters round-trip through text", prop.ForAll(
		func(count, days int, amount int64) bool {
			text := fmt.Sprintf("I have to do %d pushups for %d days or I owe @alice %d sats @fitbounty", count, days, amount)
			first := r.Resolve(text, nil)
			second := r.Resolve(text, nil)
			if first == nil || second == nil || first.Command != command.IntentCreatePenalty {
				return false
			}
			p := first.Params
			return p == second.Params &&
				p.ExerciseCount == count && p.Duration == days && p.PenaltyAmount == amount &&
				first.Confidence > 0.5 && first.Confidence <= 1
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 365),
		gen.Int64Range(1, 100000),
	))

	properties.Property("week durations are seven days each", prop.ForAll(
		func(n int) bool {
			return command.DurationDays(n, "weeks") == 7*n && command.DurationDays(n, "months") == 30*n
		},
		gen.IntRange(0, 1000),
	))

	properties.Property("oversized week and month counts never pass the duration limit", prop.ForAll(
		func(n int64, months bool) bool {
			unit := "weeks"
			if months {
				unit = "months"
			}
			text := fmt.Sprintf("I have to do 20 pushups for %d %s or I owe @alice 1000 sats @fitbounty", n, unit)
			got := r.Resolve(text, nil)
			return got != nil && got.Kind == command.ErrorValidation
		},
		gen.Int64Range(math.MaxInt64/30+1, math.MaxInt64),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
