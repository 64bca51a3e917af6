package service_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/challenge/service"
)

func TestOutcome(t *testing.T) {
	c := &model.Challenge{Duration: model.Duration{Days: 2}, Progress: map[int]model.DayProgress{
		1: {Completed: true},
	}}
	if got := service.Outcome(c); got != model.StatusFailed {
		t.Errorf("Outcome(1/2) = %s, want failed", got)
	}
	c.Progress[2] = model.DayProgress{Completed: true}
	if got := service.Outcome(c); got != model.StatusCompleted {
		t.Errorf("Outcome(2/2) = %s, want completed", got)
	}
}

func TestEvaluator_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done, _, _ := f.mgr.CreatePenalty(ctx, origin("owner1", "e1"), penaltyParams())
	f.mgr.Activate(ctx, done.ID, "x", "admin") //nolint:errcheck
	for day := 1; day <= 7; day++ {
		f.mgr.RecordProgress(ctx, done.ID, day, true, "", "owner1") //nolint:errcheck
	}
	missed, _, _ := f.mgr.CreatePenalty(ctx, origin("owner2", "e2"), penaltyParams())
	f.mgr.Activate(ctx, missed.ID, "x", "admin") //nolint:errcheck
	stale, _ := f.mgr.CreateBounty(ctx, origin("owner3", "e3"), bountyParams())

	manual := service.NewEvaluator(f.mgr, service.EvaluatorConfig{Interval: time.Hour}, zap.NewNop())
	f.now = f.now.AddDate(0, 0, 8)

	var sweeps [][2]int
	manual.SetSweepRecord(func(e, fin int) { sweeps = append(sweeps, [2]int{e, fin}) })
	if expired, finished := manual.Sweep(ctx); expired != 1 || finished != 0 {
		t.Fatalf("manual Sweep() = %d/%d, want 1/0", expired, finished)
	}
	if got, _ := f.mgr.Get(ctx, stale.ID); got.Status != model.StatusExpired {
		t.Errorf("stale bounty status = %s", got.Status)
	}

	auto := service.NewEvaluator(f.mgr, service.EvaluatorConfig{Interval: time.Hour, AutoFinish: true}, zap.NewNop())
	if _, finished := auto.Sweep(ctx); finished != 2 {
		t.Fatalf("auto Sweep() finished %d, want 2", finished)
	}
	if got, _ := f.mgr.Get(ctx, done.ID); got.Status != model.StatusCompleted {
		t.Errorf("fully reported challenge = %s, want completed", got.Status)
	}
	if got, _ := f.mgr.Get(ctx, missed.ID); got.Status != model.StatusFailed {
		t.Errorf("unreported challenge = %s, want failed", got.Status)
	}
	if len(sweeps) != 1 || sweeps[0] != [2]int{1, 0} {
		t.Errorf("sweep records = %v", sweeps)
	}
}

func TestEvaluator_StartStops(t *testing.T) {
	f := newFixture(t)
	e := service.NewEvaluator(f.mgr, service.EvaluatorConfig{Interval: time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
