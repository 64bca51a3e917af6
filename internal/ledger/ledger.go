// Package ledger keeps a hash-chained audit log of challenge lifecycle events.
//
// The chain starts with a genesis entry whose Hash equals GenesisHash. Each
// later entry records the hash of its predecessor, so any edit to history is
// caught by Verify.
package ledger

import (
	"context"
	"errors"
)

// Actions recorded by the lifecycle manager.
const (
	ActionGenesis  = "genesis"
	ActionCreate   = "create"
	ActionActivate = "activate"
	ActionExpire   = "expire"
	ActionProgress = "progress"
	ActionPledge   = "pledge"
	ActionComplete = "complete"
	ActionFail     = "fail"
	ActionPayout   = "payout"
	ActionDelete   = "delete"
)

// SystemActor is recorded for transitions the bot makes on its own.
const SystemActor = "fitbounty-system"

// ErrOutOfRange is returned by Get for an index past the chain tip.
var ErrOutOfRange = errors.New("ledger index out of range")

// Ledger is an append-only audit log. MemoryLedger and PostgresLedger
// implement it.
type Ledger interface {
	// Append adds an entry chained to the previous one. payload is
	// JSON-marshalled and its SHA-256 stored as DataHash.
	Append(ctx context.Context, challengeID, action, actor string, payload any) (*Entry, error)

	Get(ctx context.Context, index int) (*Entry, error)

	// Len counts entries including genesis.
	Len(ctx context.Context) (int, error)

	// History returns the entries for one challenge in chain order.
	History(ctx context.Context, challengeID string) ([]*Entry, error)

	// Verify walks the chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the chain tip.
	Root(ctx context.Context) (string, error)
}
