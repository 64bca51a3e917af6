package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/ledger"
)

// EvaluatorConfig holds the sweep configuration.
type EvaluatorConfig struct {
	Interval time.Duration
	// AutoFinish decides ended challenges from their recorded progress.
	// Without it ended challenges wait for an explicit Finish.
	AutoFinish bool
}

// SweepRecordFunc is an optional callback for recording sweep results.
type SweepRecordFunc func(expired, finished int)

// Evaluator periodically expires stale bounty challenges and, when enabled,
// finishes ended challenges.
type Evaluator struct {
	mgr     *Manager
	cfg     EvaluatorConfig
	onSweep SweepRecordFunc
	logger  *zap.Logger
}

// NewEvaluator creates an Evaluator. A zero interval defaults to 5 minutes.
func NewEvaluator(mgr *Manager, cfg EvaluatorConfig, logger *zap.Logger) *Evaluator {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Evaluator{mgr: mgr, cfg: cfg, logger: logger}
}

// SetSweepRecord configures the metrics recording callback.
func (e *Evaluator) SetSweepRecord(fn SweepRecordFunc) {
	e.onSweep = fn
}

// Start runs sweeps until ctx is cancelled.
func (e *Evaluator) Start(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, e.cfg.Interval)
			e.Sweep(sctx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass and returns how many challenges it expired and
// finished.
func (e *Evaluator) Sweep(ctx context.Context) (expired, finished int) {
	expired, err := e.mgr.ExpireStale(ctx)
	if err != nil {
		e.logger.Error("evaluator: expire stale bounties", zap.Error(err))
	}

	if e.cfg.AutoFinish {
		finished = e.finishEnded(ctx)
	}
	if e.onSweep != nil {
		e.onSweep(expired, finished)
	}
	if expired > 0 || finished > 0 {
		e.logger.Info("evaluator: sweep done", zap.Int("expired", expired), zap.Int("finished", finished))
	}
	return expired, finished
}

func (e *Evaluator) finishEnded(ctx context.Context) int {
	due, err := e.mgr.NeedingCheck(ctx)
	if err != nil {
		e.logger.Error("evaluator: list ended challenges", zap.Error(err))
		return 0
	}
	n := 0
	for _, c := range due {
		if _, err := e.mgr.Finish(ctx, c.ID, Outcome(c), "", ledger.SystemActor); err != nil {
			if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrChallengeNotFound) {
				e.logger.Warn("evaluator: finish challenge",
					zap.String("challenge_id", c.ID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		n++
	}
	return n
}

// Outcome decides an ended challenge from its progress: every day completed
// means completed, anything less means failed.
func Outcome(c *model.Challenge) model.Status {
	if c.CompletedDays() >= c.Duration.Days {
		return model.StatusCompleted
	}
	return model.StatusFailed
}
