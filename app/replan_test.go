package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shopsched/core/engine"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/infra/registry"
)

type fakeReplanner struct {
	calls []string
	errs  map[string]error
}

func (f *fakeReplanner) Replan(_ context.Context, id string) (engine.PlanOutcome, error) {
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return engine.PlanOutcome{}, err
	}
	return engine.PlanOutcome{Committed: true}, nil
}

func plansRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	every := func(min int) model.SchedulingPolicy {
		return model.SchedulingPolicy{HorizonHours: 48, RescheduleIntervalMinutes: min}
	}
	reg, err := registry.New(registry.Data{Plans: []model.ProductionPlan{
		{ID: "P1", Status: model.PlanActive, Policy: every(30)},
		{ID: "P2", Status: model.PlanActive, Policy: every(0)},
		{ID: "P3", Status: model.PlanDraft, Policy: every(30)},
		{ID: "P4", Status: model.PlanActive, Policy: every(60)},
	}})
	require.NoError(t, err)
	return reg
}

func TestReplanLoopHonoursInterval(t *testing.T) {
	eng := &fakeReplanner{}
	loop := NewReplanLoop(plansRegistry(t), eng, nil)
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	loop.clock = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, []string{"P1", "P4"}, loop.Tick(ctx))

	now = now.Add(10 * time.Minute)
	assert.Empty(t, loop.Tick(ctx))

	now = now.Add(21 * time.Minute)
	assert.Equal(t, []string{"P1"}, loop.Tick(ctx))

	now = now.Add(30 * time.Minute)
	assert.Equal(t, []string{"P1", "P4"}, loop.Tick(ctx))
	assert.Equal(t, []string{"P1", "P4", "P1", "P1", "P4"}, eng.calls)
}

func TestReplanLoopRetriesBusyPlans(t *testing.T) {
	eng := &fakeReplanner{errs: map[string]error{
		"P1": fmt.Errorf("lock: %w", model.ErrMachineBusy),
		"P4": errors.New("boom"),
	}}
	loop := NewReplanLoop(plansRegistry(t), eng, nil)
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	loop.clock = func() time.Time { return now }
	ctx := context.Background()

	assert.Empty(t, loop.Tick(ctx))

	now = now.Add(time.Minute)
	delete(eng.errs, "P1")
	assert.Equal(t, []string{"P1"}, loop.Tick(ctx))
	// P4 failed for good and waits for its next interval
	assert.Equal(t, []string{"P1", "P4", "P1"}, eng.calls)
}

func TestReplanLoopRunStops(t *testing.T) {
	loop := NewReplanLoop(plansRegistry(t), &fakeReplanner{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	loop.Run(context.Background(), 0)
}
