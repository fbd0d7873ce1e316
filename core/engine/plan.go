package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/shopsched/core/allocator"
	"github.com/kilianp07/shopsched/core/audit"
	"github.com/kilianp07/shopsched/core/capacity"
	"github.com/kilianp07/shopsched/core/events"
	"github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/policy"
	"github.com/kilianp07/shopsched/core/store"
)

// PlanRequest asks for the given work orders to be scheduled.
type PlanRequest struct {
	// PlanID tags the audit entry and events. Optional.
	PlanID       string                  `json:"plan_id,omitempty"`
	WorkOrderIDs []string                `json:"work_order_ids"`
	Policy       *model.SchedulingPolicy `json:"policy,omitempty"`
	// Range bounds the allocation together with the policy horizon. A zero
	// start means now; a zero end means start plus the horizon.
	Range model.DateRange `json:"range"`
	// MachineIDs restricts the candidate machines. Empty means all.
	MachineIDs []string `json:"machine_ids,omitempty"`
	// DryRun computes the schedule without committing it.
	DryRun bool `json:"dry_run,omitempty"`
}

// PlanOutcome is the result of a planning run. Slots and conflicts are
// returned together: operations that could not be placed show up as
// conflicts next to the slots that were.
type PlanOutcome struct {
	Slots     []model.ScheduleSlot       `json:"slots"`
	Conflicts []model.SchedulingConflict `json:"conflicts"`
	Horizon   model.TimeWindow           `json:"horizon"`
	Committed bool                       `json:"committed"`
	Retries   int                        `json:"retries"`
}

type planArgs struct {
	run    metrics.Run
	action string
	kind   events.Kind
	req    PlanRequest
	// replace deletes the unstarted slots of the work orders before
	// allocating them again.
	replace bool
}

// PlanSchedule sequences and allocates every unscheduled operation of the
// requested work orders. An invalid policy rejects the request before any
// allocation.
func (e *Engine) PlanSchedule(ctx context.Context, req PlanRequest) (PlanOutcome, error) {
	out, err := e.plan(ctx, planArgs{
		run:    metrics.RunPlan,
		action: audit.ActionPlan,
		kind:   events.KindPlanCommitted,
		req:    req,
	})
	return out, e.fail(metrics.RunPlan, err)
}

// Replan recomputes a production plan: slots of its work orders that have
// not started are dropped and their operations allocated again from now
// on. Started and completed slots stay where they are.
func (e *Engine) Replan(ctx context.Context, planID string) (PlanOutcome, error) {
	if e.plans == nil {
		return PlanOutcome{}, fmt.Errorf("plan %s: %w", planID, model.ErrNotFound)
	}
	p, err := e.plans.Plan(ctx, planID)
	if err != nil {
		return PlanOutcome{}, e.fail(metrics.RunReplan, err)
	}
	if p.Status != model.PlanActive && p.Status != model.PlanDraft {
		return PlanOutcome{}, fmt.Errorf("%w: plan %s is %s", model.ErrInvalidRequest, p.ID, p.Status)
	}
	r := p.Range
	if now := e.clock().Truncate(time.Minute); now.After(r.Start) {
		r.Start = now
	}
	if !r.End.After(r.Start) {
		return PlanOutcome{}, fmt.Errorf("%w: plan %s range has elapsed", model.ErrInvalidRequest, p.ID)
	}
	pol := p.Policy.WithDefaults(e.cfg.DefaultPolicy)
	out, err := e.plan(ctx, planArgs{
		run:    metrics.RunReplan,
		action: audit.ActionReplan,
		kind:   events.KindReplanned,
		req: PlanRequest{
			PlanID:       p.ID,
			WorkOrderIDs: p.WorkOrderIDs,
			Policy:       &pol,
			Range:        r,
			MachineIDs:   p.MachineIDs,
		},
		replace: true,
	})
	return out, e.fail(metrics.RunReplan, err)
}

func (e *Engine) plan(ctx context.Context, a planArgs) (PlanOutcome, error) {
	started := e.clock()
	req := a.req
	pol := e.cfg.DefaultPolicy
	if req.Policy != nil {
		pol = *req.Policy
	}
	if err := pol.Validate(); err != nil {
		return PlanOutcome{}, err
	}
	horizon, err := e.horizon(req.Range, pol)
	if err != nil {
		return PlanOutcome{}, err
	}
	if len(req.WorkOrderIDs) == 0 {
		return PlanOutcome{}, fmt.Errorf("%w: no work orders", model.ErrInvalidRequest)
	}

	orders, err := e.orders.WorkOrders(ctx, req.WorkOrderIDs)
	if err != nil {
		return PlanOutcome{}, fmt.Errorf("loading work orders: %w", err)
	}
	machines, err := e.machines.Machines(ctx, req.MachineIDs)
	if err != nil {
		return PlanOutcome{}, fmt.Errorf("loading machines: %w", err)
	}
	mids := machineIDs(machines)
	caps, err := e.machines.Capabilities(ctx, mids)
	if err != nil {
		return PlanOutcome{}, fmt.Errorf("loading capabilities: %w", err)
	}

	lockIDs := mids
	if a.replace {
		own, err := e.slots.Slots(ctx, store.SlotQuery{WorkOrderIDs: req.WorkOrderIDs, Statuses: []model.SlotStatus{model.SlotScheduled}})
		if err != nil {
			return PlanOutcome{}, fmt.Errorf("loading slots: %w", err)
		}
		for _, s := range own {
			lockIDs = append(lockIDs, s.MachineID)
		}
	}
	lockIDs = uniqueSorted(lockIDs)
	release, err := e.locks.TryAcquire(lockIDs)
	if err != nil {
		return PlanOutcome{}, err
	}
	defer release()

	var (
		out       = PlanOutcome{Horizon: horizon}
		timelines map[string]*capacity.Timeline
		placed    []model.ScheduleSlot
	)
	out.Retries, err = e.withRetry(ctx, a.run, lockIDs, func(ctx context.Context) error {
		versions, err := e.slots.Versions(ctx, lockIDs)
		if err != nil {
			return fmt.Errorf("reading versions: %w", err)
		}
		existing, err := e.slots.Slots(ctx, store.SlotQuery{MachineIDs: mids, Window: horizon})
		if err != nil {
			return fmt.Errorf("loading slots: %w", err)
		}
		own, err := e.slots.Slots(ctx, store.SlotQuery{WorkOrderIDs: req.WorkOrderIDs})
		if err != nil {
			return fmt.Errorf("loading slots: %w", err)
		}

		drop := make(map[string]bool)
		if a.replace {
			for _, s := range own {
				if s.Status == model.SlotScheduled && contains(lockIDs, s.MachineID) {
					drop[s.ID] = true
				}
			}
		}
		existing = without(existing, drop)
		placed = without(own, drop)
		done := make(map[model.OpRef]bool, len(placed))
		ends := make(map[model.OpRef]time.Time, len(placed))
		for _, s := range placed {
			done[s.Ref()] = true
			ends[s.Ref()] = s.End
		}

		timelines = make(map[string]*capacity.Timeline, len(machines))
		for _, m := range machines {
			tl, err := capacity.NewTimeline(m, horizon, e.cfg.Granularity, existing)
			if err != nil {
				return err
			}
			timelines[m.ID] = tl
		}
		ordered, err := policy.Order(pol.Rule, policy.Candidates(orders, done), e.clock())
		if err != nil {
			return err
		}
		res := allocator.Allocate(allocator.Input{
			Ordered:      ordered,
			Policy:       pol,
			Horizon:      horizon,
			Timelines:    timelines,
			Capabilities: caps,
			Scheduled:    ends,
			NewID:        e.newID,
		})

		conflicts := res.Conflicts
		if len(res.Slots) > 0 {
			found, err := e.detect(ctx, append(existing, res.Slots...), machines, caps, pol)
			if err != nil {
				return err
			}
			conflicts = append(conflicts, involving(found, res.Slots)...)
		}
		sortConflicts(conflicts)
		out.Slots, out.Conflicts, out.Committed = res.Slots, conflicts, false

		if req.DryRun || (len(res.Slots) == 0 && len(drop) == 0) {
			return nil
		}
		c := store.Commit{Expected: make(map[string]int64), Upsert: res.Slots}
		for _, id := range c.Machines() {
			c.Expected[id] = versions[id]
		}
		for _, s := range own {
			if drop[s.ID] {
				c.Delete = append(c.Delete, s.ID)
				c.Expected[s.MachineID] = versions[s.MachineID]
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.slots.Commit(ctx, c); err != nil {
			return err
		}
		for i := range out.Slots {
			out.Slots[i].Version = versions[out.Slots[i].MachineID] + 1
		}
		out.Committed = true
		return nil
	})
	if err != nil {
		return PlanOutcome{}, err
	}

	ev := events.ScheduleEvent{
		Kind:      a.kind,
		PlanID:    req.PlanID,
		Slots:     out.Slots,
		Conflicts: out.Conflicts,
		Time:      e.clock(),
	}
	for _, id := range ev.Machines() {
		ev.Buckets = append(ev.Buckets, timelines[id].Buckets()...)
	}
	res := metrics.PlanResult{
		Run:       a.run,
		PlanID:    req.PlanID,
		Rule:      pol.Rule.String(),
		Slots:     len(out.Slots),
		Conflicts: len(out.Conflicts),
		Critical:  criticalCount(out.Conflicts),
		Retries:   out.Retries,
		Committed: out.Committed,
		Duration:  e.clock().Sub(started),
		Time:      ev.Time,
	}
	e.record(ctx, ev, res, audit.Entry{
		Timestamp:  ev.Time,
		Action:     a.action,
		PlanID:     req.PlanID,
		MachineIDs: ev.Machines(),
		SlotIDs:    slotIDs(out.Slots),
		Conflicts:  out.Conflicts,
		Detail:     fmt.Sprintf("rule=%s horizon=%s/%s", pol.Rule, horizon.Start.Format(time.RFC3339), horizon.End.Format(time.RFC3339)),
	})
	if out.Committed {
		e.deriveStatuses(ctx, orders, append(placed, out.Slots...))
	}
	e.log.Infof("%s %s: %d slot(s), %d conflict(s) (%d critical), %d retries, committed=%t",
		a.run, req.PlanID, res.Slots, res.Conflicts, res.Critical, res.Retries, out.Committed)
	return out, nil
}

// horizon intersects the requested range with the policy horizon.
func (e *Engine) horizon(r model.DateRange, pol model.SchedulingPolicy) (model.TimeWindow, error) {
	start := r.Start
	if start.IsZero() {
		start = e.clock().Truncate(time.Minute)
	}
	end := start.Add(pol.Horizon())
	if !r.End.IsZero() {
		if !r.End.After(start) {
			return model.TimeWindow{}, fmt.Errorf("%w: range ends at or before its start", model.ErrInvalidRequest)
		}
		if r.End.Before(end) {
			end = r.End
		}
	}
	return model.TimeWindow{Start: start.UTC(), End: end.UTC()}, nil
}

// involving keeps the conflicts that reference at least one of slots.
func involving(cs []model.SchedulingConflict, slots []model.ScheduleSlot) []model.SchedulingConflict {
	ids := make(map[string]bool, len(slots))
	for _, s := range slots {
		ids[s.ID] = true
	}
	var out []model.SchedulingConflict
	for _, c := range cs {
		for _, id := range c.SlotIDs {
			if ids[id] {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func without(slots []model.ScheduleSlot, drop map[string]bool) []model.ScheduleSlot {
	if len(drop) == 0 {
		return slots
	}
	out := make([]model.ScheduleSlot, 0, len(slots))
	for _, s := range slots {
		if !drop[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	i := sort.SearchStrings(list, v)
	return i < len(list) && list[i] == v
}
