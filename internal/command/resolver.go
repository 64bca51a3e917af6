package command

import (
	"strings"

	"github.com/fitbounty/fitbounty/internal/identity"
)

// DefaultHandle is the mention handle used when none is configured.
const DefaultHandle = "@fitbounty"

// Config configures a Resolver.
type Config struct {
	// BotHandle is the textual mention, for example "@fitbounty".
	BotHandle string
	// BotPublicKey is the bot's hex public key. When set, "nostr:npub…"
	// mentions of the bot also pass the gate.
	BotPublicKey string
	Limits       Limits
	Vocabulary   *Vocabulary
}

// Resolver runs the full command resolution pipeline.
type Resolver struct {
	classifier *Classifier
	extractor  *Extractor
	validator  *Validator
	handle     string
	botTokens  []string
}

// NewResolver builds a Resolver from cfg, filling zero values with defaults.
func NewResolver(cfg Config) *Resolver {
	handle := strings.ToLower(strings.TrimSpace(cfg.BotHandle))
	if handle == "" {
		handle = DefaultHandle
	}
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}

	tokens := []string{handle}
	names := []string{handle}
	if cfg.BotPublicKey != "" {
		if npub, err := identity.EncodePublicKey(cfg.BotPublicKey); err == nil {
			tokens = append(tokens, "nostr:"+npub, "@"+npub)
			names = append(names, npub)
		}
	}

	return &Resolver{
		classifier: NewClassifier(DefaultRules(handle), tokens...),
		extractor:  NewExtractor(cfg.Vocabulary, cfg.BotPublicKey, cfg.Limits.DefaultDuration),
		validator:  NewValidator(cfg.Limits, names...),
		handle:     handle,
		botTokens:  tokens,
	}
}

// Handle returns the normalized bot handle, for example "@fitbounty".
func (r *Resolver) Handle() string {
	return r.handle
}

// Mentioned reports whether raw text addresses the bot.
func (r *Resolver) Mentioned(text string) bool {
	return r.classifier.Mentioned(Normalize(text))
}

// Resolve interprets text. It returns nil when the text does not mention the
// bot; such messages are ignored. Resolution never fails with an error: an
// unrecognised or invalid command yields a ParsedCommand whose Command is
// IntentError.
//
// When the winning rule's parameters fail validation the result is an error;
// lower-priority rules are not tried.
func (r *Resolver) Resolve(text string, tags [][]string) *ParsedCommand {
	normalized := Normalize(text)
	if !r.classifier.Mentioned(normalized) {
		return nil
	}

	m, ok := r.classifier.Classify(normalized)
	if !ok {
		missing, errs := Diagnose(normalized, r.botTokens...)
		return &ParsedCommand{
			Command:       IntentError,
			Kind:          ErrorNoIntent,
			Errors:        errs,
			Missing:       missing,
			OriginalMatch: normalized,
		}
	}

	params := r.extractor.Extract(m, tags)
	if errs := r.validator.Validate(m.Rule.Intent, params); len(errs) > 0 {
		return &ParsedCommand{
			Command:       IntentError,
			Kind:          ErrorValidation,
			Params:        params,
			Errors:        errs,
			OriginalMatch: m.Text,
			RuleID:        m.Rule.ID,
		}
	}

	return &ParsedCommand{
		Command:       m.Rule.Intent,
		Params:        params,
		Confidence:    Score(m),
		OriginalMatch: m.Text,
		RuleID:        m.Rule.ID,
	}
}
