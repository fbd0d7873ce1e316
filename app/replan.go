package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/shopsched/core/engine"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/store"
	"github.com/kilianp07/shopsched/infra/logger"
)

// Replanner is the engine call used by the re-plan loop.
type Replanner interface {
	Replan(ctx context.Context, planID string) (engine.PlanOutcome, error)
}

// ReplanLoop re-plans active plans whose policy sets a reschedule
// interval. A plan is due when its interval has elapsed since the last
// attempt; the first check after start re-plans every opted-in plan.
type ReplanLoop struct {
	plans store.PlanReader
	eng   Replanner
	log   logger.Logger
	clock func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewReplanLoop creates a loop. Engine failures are reported by the
// engine itself; the loop only logs them.
func NewReplanLoop(plans store.PlanReader, eng Replanner, log logger.Logger) *ReplanLoop {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &ReplanLoop{plans: plans, eng: eng, log: log, clock: time.Now, last: make(map[string]time.Time)}
}

// Tick re-plans the due plans and returns their ids.
func (l *ReplanLoop) Tick(ctx context.Context) []string {
	active, err := l.plans.Plans(ctx, model.PlanActive)
	if err != nil {
		l.log.Errorf("list active plans: %v", err)
		return nil
	}
	now := l.clock()
	var done []string
	for _, p := range active {
		every := p.Policy.RescheduleInterval()
		if every <= 0 {
			continue
		}
		l.mu.Lock()
		last, seen := l.last[p.ID]
		due := !seen || now.Sub(last) >= every
		if due {
			l.last[p.ID] = now
		}
		l.mu.Unlock()
		if !due {
			continue
		}
		out, err := l.eng.Replan(ctx, p.ID)
		switch {
		case err == nil:
			l.log.Infof("replanned %s: %d slots, %d conflicts", p.ID, len(out.Slots), len(out.Conflicts))
			done = append(done, p.ID)
		case errors.Is(err, model.ErrMachineBusy), errors.Is(err, model.ErrConcurrentModification):
			// retried on the next tick
			l.mu.Lock()
			delete(l.last, p.ID)
			l.mu.Unlock()
			l.log.Warnf("replan %s deferred: %v", p.ID, err)
		default:
			l.log.Errorf("replan %s: %v", p.ID, err)
		}
	}
	return done
}

// Run calls Tick every interval until ctx is done.
func (l *ReplanLoop) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}
