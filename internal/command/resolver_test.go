package command_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/fitbounty/fitbounty/internal/command"
)

const (
	botHex    = "1111111111111111111111111111111111111111111111111111111111111111"
	aliceHex  = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	aliceNpub = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
)

func newTestResolver() *command.Resolver {
	return command.NewResolver(command.Config{BotHandle: "@fitbounty"})
}

func TestResolve_penaltyChallenges(t *testing.T) {
	cases := []struct {
		text      string
		exercise  string
		count     int
		days      int
		amount    int64
		recipient string
	}{
		{"I have to do 20 pushups for 7 days OR I owe @alice 1000 sats @fitbounty", "pushup", 20, 7, 1000, "alice"},
		{"If I don't do 15 pullups for 2 weeks, @dave gets 3000 sats @fitbounty", "pullup", 15, 14, 3000, "dave"},
		{"If I don't do 30 burpees daily for a week, @bob gets 500 sats @fitbounty", "burpee", 30, 7, 500, "bob"},
		{"25 situps daily for 7 days or @eve gets 1500 sats @fitbounty", "situp", 25, 7, 1500, "eve"},
		{"30 squads daily for a week or @helen receives 900 sats @fitbounty", "squat", 30, 7, 900, "helen"},
		{"100 jumping jacks for 3 days, penalty 800 sats to @frank @fitbounty", "jumping jack", 100, 3, 800, "frank"},
		{"@fitbounty 20 lunges daily for 1 month or @jane gets 10000 sats", "lunge", 20, 30, 10000, "jane"},
		{"I must do 10 pullups for 2 weeks or I owe @ivan 4000 sats @fitbounty", "pullup", 10, 14, 4000, "ivan"},
		{"I will do 30 burpees daily for 5 days or I owe @charlie 500 sats @fitbounty", "burpee", 30, 5, 500, "charlie"},
		{"I have to do 40 puships for 5 days or i owe @greg 1000 sats @fitbounty", "pushup", 40, 5, 1000, "greg"},
		{"25 situps for 5 days or pay @carol 2000 sats @fitbounty", "situp", 25, 5, 2000, "carol"},
	}

	r := newTestResolver()
	for _, tc := range cases {
		got := r.Resolve(tc.text, nil)
		if got == nil {
			t.Errorf("%q: expected a result, got nil", tc.text)
			continue
		}
		if got.Command != command.IntentCreatePenalty {
			t.Errorf("%q: command = %s (errors %v)", tc.text, got.Command, got.Errors)
			continue
		}
		p := got.Params
		if p.ExerciseType != tc.exercise || p.ExerciseCount != tc.count || p.Duration != tc.days {
			t.Errorf("%q: got %d %q for %d days", tc.text, p.ExerciseCount, p.ExerciseType, p.Duration)
		}
		if p.PenaltyAmount != tc.amount || p.PenaltyRecipient != tc.recipient {
			t.Errorf("%q: got %d sats to %q", tc.text, p.PenaltyAmount, p.PenaltyRecipient)
		}
		if got.Confidence <= 0.5 || got.Confidence > 1 {
			t.Errorf("%q: confidence %v out of range", tc.text, got.Confidence)
		}
	}
}

func TestResolve_penaltyDescription(t *testing.T) {
	got := newTestResolver().Resolve("I have to do 20 pushups for 7 days OR I owe @alice 1000 sats @fitbounty", nil)
	if got.Params.Exercise != "20 pushup" {
		t.Errorf("Exercise = %q", got.Params.Exercise)
	}
	if got.Params.FullDescription != "20 pushup daily for 7 days" {
		t.Errorf("FullDescription = %q", got.Params.FullDescription)
	}
	if got.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", got.Confidence)
	}
	if got.RuleID != "penalty-or-i-owe" {
		t.Errorf("RuleID = %q", got.RuleID)
	}
}

func TestResolve_perPeriod(t *testing.T) {
	got := newTestResolver().Resolve("I have to do 2 runs per week for 4 weeks or I owe @alice 5000 sats @fitbounty", nil)
	if got.Command != command.IntentCreatePenalty {
		t.Fatalf("command = %s (%v)", got.Command, got.Errors)
	}
	if got.Params.Frequency != "weekly" || got.Params.Duration != 28 || got.Params.ExerciseType != "run" {
		t.Errorf("got %+v", got.Params)
	}
}

func TestResolve_wildcardScoresLower(t *testing.T) {
	got := newTestResolver().Resolve("25 situps for 5 days or pay @carol 2000 sats @fitbounty", nil)
	if got.RuleID != "penalty-flexible" {
		t.Fatalf("RuleID = %q", got.RuleID)
	}
	if got.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", got.Confidence)
	}
}

func TestResolve_bountyChallenges(t *testing.T) {
	cases := []struct {
		text     string
		exercise string
		count    int
		days     int
	}{
		{"@fitbounty challenge: 75 squats for 2 weeks", "squat", 75, 14},
		{"I want to do 50 pushups daily for 10 days @fitbounty", "pushup", 50, 10},
		{"Going to do 50 squats daily for 5 days @fitbounty", "squat", 50, 5},
		{"Challenge: 100 burpees daily for 5 days @fitbounty", "burpee", 100, 5},
		{"Challenge: 100 burpees for 3 days @fitbounty", "burpee", 100, 3},
		{"@fitbounty challenge: 40 planks daily", "plank", 40, 3},
	}

	r := newTestResolver()
	for _, tc := range cases {
		got := r.Resolve(tc.text, nil)
		if got == nil || got.Command != command.IntentCreateBounty {
			t.Errorf("%q: got %+v", tc.text, got)
			continue
		}
		p := got.Params
		if p.ExerciseType != tc.exercise || p.ExerciseCount != tc.count || p.Duration != tc.days {
			t.Errorf("%q: got %d %q for %d days", tc.text, p.ExerciseCount, p.ExerciseType, p.Duration)
		}
		if p.PenaltyRecipient != "" || p.PenaltyAmount != 0 {
			t.Errorf("%q: bounty must not carry penalty fields: %+v", tc.text, p)
		}
	}
}

func TestResolve_utilityCommands(t *testing.T) {
	cases := []struct {
		text   string
		intent command.Intent
		amount int64
	}{
		{"@fitbounty bounty 1000 sats", command.IntentSetBounty, 1000},
		{"I'll put 500 sats on this @fitbounty", command.IntentSetBounty, 500},
		{"I bet 250 sats @fitbounty", command.IntentSetBounty, 250},
		{"@fitbounty status", command.IntentGetStatus, 0},
		{"How's my challenge going @fitbounty?", command.IntentGetStatus, 0},
		{"@fitbounty leaderboard", command.IntentGetLeaderboard, 0},
		{"show top performers @fitbounty", command.IntentGetLeaderboard, 0},
		{"@fitbounty help", command.IntentShowHelp, 0},
		{"What can you do @fitbounty", command.IntentShowHelp, 0},
	}

	r := newTestResolver()
	for _, tc := range cases {
		got := r.Resolve(tc.text, nil)
		if got == nil || got.Command != tc.intent {
			t.Errorf("%q: got %+v, want %s", tc.text, got, tc.intent)
			continue
		}
		if got.Params.Amount != tc.amount {
			t.Errorf("%q: amount %d, want %d", tc.text, got.Params.Amount, tc.amount)
		}
		if got.Confidence != 0.9 {
			t.Errorf("%q: confidence %v, want 0.9", tc.text, got.Confidence)
		}
	}
}

func TestResolve_notMentioned(t *testing.T) {
	r := newTestResolver()
	for _, text := range []string{"", "hello world", "I have to do 20 pushups for 7 days or I owe @alice 1000 sats"} {
		if got := r.Resolve(text, nil); got != nil {
			t.Errorf("%q: expected nil, got %+v", text, got)
		}
	}
}

func TestResolve_noIntent(t *testing.T) {
	got := newTestResolver().Resolve("I want to exercise @fitbounty", nil)
	if got == nil || !got.IsError() || got.Kind != command.ErrorNoIntent {
		t.Fatalf("expected no-intent error, got %+v", got)
	}
	joined := strings.ToLower(strings.Join(got.Errors, "\n"))
	if !strings.Contains(joined, "missing numbers") || !strings.Contains(joined, "missing duration") {
		t.Errorf("errors = %v", got.Errors)
	}
	if !got.Missing.Numbers || !got.Missing.Duration || got.Missing.Amount || got.Missing.Recipient {
		t.Errorf("missing = %+v", got.Missing)
	}
	if !errors.Is(got.Err(), command.ErrNoIntentMatch) {
		t.Errorf("Err() = %v", got.Err())
	}
}

func TestResolve_noIntentPenaltyHints(t *testing.T) {
	got := newTestResolver().Resolve("pushups or I owe money @fitbounty", nil)
	if got.Kind != command.ErrorNoIntent {
		t.Fatalf("got %+v", got)
	}
	if !got.Missing.Amount || !got.Missing.Recipient {
		t.Errorf("missing = %+v (errors %v)", got.Missing, got.Errors)
	}
}

func TestResolve_validationErrors(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"I have to do 20 pushups for 400 days or I owe @alice 1000 sats @fitbounty", "Duration must be between"},
		{"I have to do 20 pushups for 0 days or I owe @alice 1000 sats @fitbounty", "Duration must be between"},
		{"I have to do 20 pushups for 2635249153387078803 weeks OR I owe @alice 1000 sats @fitbounty", "Duration must be between"},
		{"I have to do 20 pushups for 307445734561825861 months or I owe @alice 1000 sats @fitbounty", "Duration must be between"},
		{"I have to do 20 pushups for 7 days or I owe @alice 200000 sats @fitbounty", "Penalty amount must be between"},
		{"I have to do 0 pushups for 7 days or I owe @alice 100 sats @fitbounty", "Exercise count must be greater than zero"},
		{"I have to do 20 pushups for 7 days or I owe @fitbounty 100 sats", "cannot be the bot"},
		{"@fitbounty bounty 0 sats", "Bounty amount must be at least"},
	}

	r := newTestResolver()
	for _, tc := range cases {
		got := r.Resolve(tc.text, nil)
		if got == nil || got.Kind != command.ErrorValidation {
			t.Errorf("%q: expected validation error, got %+v", tc.text, got)
			continue
		}
		if !strings.Contains(strings.Join(got.Errors, "\n"), tc.want) {
			t.Errorf("%q: errors %v, want %q", tc.text, got.Errors, tc.want)
		}
		if !errors.Is(got.Err(), command.ErrValidation) {
			t.Errorf("%q: Err() = %v", tc.text, got.Err())
		}
	}
}

func TestResolve_recipientKeyFromTags(t *testing.T) {
	r := command.NewResolver(command.Config{BotHandle: "@fitbounty", BotPublicKey: botHex})
	tags := [][]string{{"e", "abc"}, {"p", botHex}, {"p", aliceHex}}

	got := r.Resolve("I have to do 20 pushups for 7 days or I owe @alice 1000 sats @fitbounty", tags)
	if got.Params.PenaltyRecipientKey != aliceHex {
		t.Errorf("PenaltyRecipientKey = %q, want %q", got.Params.PenaltyRecipientKey, aliceHex)
	}
}

func TestResolve_recipientKeyUnknown(t *testing.T) {
	r := command.NewResolver(command.Config{BotHandle: "@fitbounty", BotPublicKey: botHex})
	got := r.Resolve("I have to do 20 pushups for 7 days or I owe @alice 1000 sats @fitbounty", [][]string{{"p", botHex}})
	if got.IsError() {
		t.Fatalf("unexpected error: %v", got.Errors)
	}
	if got.Params.PenaltyRecipientKey != "" {
		t.Errorf("PenaltyRecipientKey = %q, want empty", got.Params.PenaltyRecipientKey)
	}
}

func TestResolve_recipientKeyFromProfile(t *testing.T) {
	got := newTestResolver().Resolve("I have to do 20 pushups for 7 days or I owe nostr:"+aliceNpub+" 1000 sats @fitbounty", nil)
	if got.Command != command.IntentCreatePenalty {
		t.Fatalf("command = %s (%v)", got.Command, got.Errors)
	}
	if got.Params.PenaltyRecipient != aliceNpub || got.Params.PenaltyRecipientKey != aliceHex {
		t.Errorf("recipient = %q key = %q", got.Params.PenaltyRecipient, got.Params.PenaltyRecipientKey)
	}
}

func TestResolve_botKeyMention(t *testing.T) {
	r := command.NewResolver(command.Config{BotPublicKey: aliceHex})
	got := r.Resolve("nostr:"+aliceNpub+" help", nil)
	if got == nil || got.Command != command.IntentShowHelp {
		t.Fatalf("expected help via key mention, got %+v", got)
	}
}

func TestResolve_customHandle(t *testing.T) {
	r := command.NewResolver(command.Config{BotHandle: "gymbot"})
	if got := r.Resolve("@gymbot help", nil); got == nil || got.Command != command.IntentShowHelp {
		t.Errorf("custom handle: got %+v", got)
	}
	if got := r.Resolve("@fitbounty help", nil); got != nil {
		t.Errorf("default handle must not match: %+v", got)
	}
}

func TestDurationDays_overflow(t *testing.T) {
	if got := command.DurationDays(math.MaxInt/7+1, "weeks"); got != -1 {
		t.Errorf("weeks overflow: got %d, want -1", got)
	}
	if got := command.DurationDays(math.MaxInt/30+1, "months"); got != -1 {
		t.Errorf("months overflow: got %d, want -1", got)
	}
	if got := command.DurationDays(math.MaxInt, "days"); got != math.MaxInt {
		t.Errorf("days: got %d", got)
	}
	if got := command.DurationDays(52, "weeks"); got != 364 {
		t.Errorf("52 weeks: got %d, want 364", got)
	}
}
