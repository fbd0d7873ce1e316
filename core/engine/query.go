package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/shopsched/core/aggregate"
	"github.com/kilianp07/shopsched/core/audit"
	"github.com/kilianp07/shopsched/core/capacity"
	"github.com/kilianp07/shopsched/core/conflict"
	"github.com/kilianp07/shopsched/core/events"
	"github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/store"
)

// ValidateRequest carries candidate slots to check.
type ValidateRequest struct {
	Slots  []model.ScheduleSlot    `json:"slots"`
	Policy *model.SchedulingPolicy `json:"policy,omitempty"`
	// WithStored merges the candidates with the stored slots of the same
	// machines and of the same work orders; a candidate replaces the stored
	// slot with the same id.
	WithStored bool `json:"with_stored,omitempty"`
}

// ValidateSlots returns the conflicts of the candidate slot set. It never
// writes and running it twice on the same input yields the same result.
func (e *Engine) ValidateSlots(ctx context.Context, req ValidateRequest) ([]model.SchedulingConflict, error) {
	started := e.clock()
	pol := e.cfg.DefaultPolicy
	if req.Policy != nil {
		pol = *req.Policy
		if err := pol.Validate(); err != nil {
			return nil, err
		}
	}
	machines, err := e.machines.Machines(ctx, nil)
	if err != nil {
		return nil, e.fail(metrics.RunValidate, fmt.Errorf("loading machines: %w", err))
	}
	caps, err := e.machines.Capabilities(ctx, machineIDs(machines))
	if err != nil {
		return nil, e.fail(metrics.RunValidate, fmt.Errorf("loading capabilities: %w", err))
	}
	slots := req.Slots
	if req.WithStored && len(slots) > 0 {
		if slots, err = e.mergeStored(ctx, slots); err != nil {
			return nil, e.fail(metrics.RunValidate, err)
		}
	}
	found, err := e.detect(ctx, slots, machines, caps, pol)
	if err != nil {
		return nil, e.fail(metrics.RunValidate, err)
	}
	if req.WithStored {
		found = involving(found, req.Slots)
	}
	e.record(ctx, events.ScheduleEvent{Conflicts: found, Time: e.clock()}, metrics.PlanResult{
		Run:       metrics.RunValidate,
		Rule:      pol.Rule.String(),
		Slots:     len(req.Slots),
		Conflicts: len(found),
		Critical:  criticalCount(found),
		Duration:  e.clock().Sub(started),
		Time:      e.clock(),
	}, audit.Entry{})
	return found, nil
}

// GetCapacityBuckets returns the load of each machine over r, one bucket per
// granularity step, ordered by machine then start. Empty ids means every
// machine.
func (e *Engine) GetCapacityBuckets(ctx context.Context, ids []string, r model.DateRange, g model.Granularity) ([]model.CapacityBucket, error) {
	if g == "" {
		g = e.cfg.Granularity
	}
	if !g.IsValid() {
		return nil, fmt.Errorf("%w: granularity %q", model.ErrInvalidRequest, g)
	}
	if !r.End.After(r.Start) {
		return nil, fmt.Errorf("%w: empty date range", model.ErrInvalidRequest)
	}
	machines, err := e.machines.Machines(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading machines: %w", err)
	}
	slots, err := e.slots.Slots(ctx, store.SlotQuery{MachineIDs: machineIDs(machines), Window: r})
	if err != nil {
		return nil, e.fail(metrics.RunQuery, fmt.Errorf("loading slots: %w", err))
	}
	byMachine := make(map[string][]model.ScheduleSlot)
	for _, s := range slots {
		byMachine[s.MachineID] = append(byMachine[s.MachineID], s)
	}
	var out []model.CapacityBucket
	for _, m := range machines {
		bs, err := capacity.Buckets(m, byMachine[m.ID], r, g)
		if err != nil {
			return nil, err
		}
		out = append(out, bs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MachineID != out[j].MachineID {
			return out[i].MachineID < out[j].MachineID
		}
		return out[i].Start.Before(out[j].Start)
	})
	if rec, ok := e.sink.(metrics.UtilizationRecorder); ok {
		if err := rec.RecordUtilization(out); err != nil {
			e.log.Warnf("record utilization: %v", err)
		}
	}
	return out, nil
}

// GetPlanMetrics computes progress, efficiency and OEE of a plan.
func (e *Engine) GetPlanMetrics(ctx context.Context, planID string) (model.PlanMetrics, error) {
	if e.plans == nil {
		return model.PlanMetrics{}, fmt.Errorf("plan %s: %w", planID, model.ErrNotFound)
	}
	p, err := e.plans.Plan(ctx, planID)
	if err != nil {
		return model.PlanMetrics{}, err
	}
	machines, err := e.machines.Machines(ctx, p.MachineIDs)
	if err != nil {
		return model.PlanMetrics{}, fmt.Errorf("loading machines: %w", err)
	}
	var (
		orders []model.WorkOrder
		slots  []model.ScheduleSlot
	)
	if len(p.WorkOrderIDs) > 0 {
		orders, err = e.orders.WorkOrders(ctx, p.WorkOrderIDs)
		if err != nil {
			return model.PlanMetrics{}, fmt.Errorf("loading work orders: %w", err)
		}
		slots, err = e.slots.Slots(ctx, store.SlotQuery{WorkOrderIDs: p.WorkOrderIDs})
		if err != nil {
			return model.PlanMetrics{}, e.fail(metrics.RunQuery, fmt.Errorf("loading slots: %w", err))
		}
	}
	var reports []model.ProductionReport
	if e.reports != nil {
		reports, err = e.reports.Reports(ctx, machineIDs(machines), p.Range)
		if err != nil {
			return model.PlanMetrics{}, fmt.Errorf("loading reports: %w", err)
		}
	}
	pm := aggregate.Aggregate(aggregate.Input{
		Plan:     p,
		Slots:    slots,
		Orders:   orders,
		Machines: machines,
		Reports:  reports,
		Now:      e.clock(),
	})
	if rec, ok := e.sink.(metrics.PlanMetricsRecorder); ok {
		if err := rec.RecordPlanMetrics(pm); err != nil {
			e.log.Warnf("record plan metrics: %v", err)
		}
	}
	return pm, nil
}

// detect runs the conflict detector over slots with the work orders they
// reference.
func (e *Engine) detect(ctx context.Context, slots []model.ScheduleSlot, machines []model.Machine, caps []model.MachineCapability, pol model.SchedulingPolicy) ([]model.SchedulingConflict, error) {
	var ids []string
	for _, s := range slots {
		ids = append(ids, s.WorkOrderID)
	}
	orders, err := e.ordersFor(ctx, uniqueSorted(ids))
	if err != nil {
		return nil, err
	}
	return conflict.Validate(ctx, conflict.Snapshot{
		Slots:        slots,
		Machines:     machineIndex(machines),
		Capabilities: caps,
		WorkOrders:   orders,
		Policy:       pol,
		Granularity:  e.cfg.Granularity,
	})
}

// ordersFor loads the work orders with the given ids. Unknown ids are
// skipped so that slots referencing them surface as malformed conflicts.
func (e *Engine) ordersFor(ctx context.Context, ids []string) (map[string]model.WorkOrder, error) {
	out := make(map[string]model.WorkOrder, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	orders, err := e.orders.WorkOrders(ctx, ids)
	if err == nil {
		for _, wo := range orders {
			out[wo.ID] = wo
		}
		return out, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("loading work orders: %w", err)
	}
	for _, id := range ids {
		one, err := e.orders.WorkOrders(ctx, []string{id})
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading work order %s: %w", id, err)
		}
		for _, wo := range one {
			out[wo.ID] = wo
		}
	}
	return out, nil
}

// mergeStored overlays candidates on the stored slots of their machines.
func (e *Engine) mergeStored(ctx context.Context, candidates []model.ScheduleSlot) ([]model.ScheduleSlot, error) {
	var mids []string
	span := candidates[0].Window()
	for _, s := range candidates {
		mids = append(mids, s.MachineID)
		if s.Start.Before(span.Start) {
			span.Start = s.Start
		}
		if s.End.After(span.End) {
			span.End = s.End
		}
	}
	if !span.End.After(span.Start) {
		return candidates, nil
	}
	stored, err := e.storedAround(ctx, candidates, uniqueSorted(mids), capacity.Cover(span, e.cfg.Granularity))
	if err != nil {
		return nil, err
	}
	return overlay(stored, candidates), nil
}

// storedAround loads the stored slots on machineIDs overlapping w, plus
// every stored slot of the candidates' work orders on any machine, so that
// precedence against operations running elsewhere is checked.
func (e *Engine) storedAround(ctx context.Context, candidates []model.ScheduleSlot, machineIDs []string, w model.TimeWindow) ([]model.ScheduleSlot, error) {
	stored, err := e.slots.Slots(ctx, store.SlotQuery{MachineIDs: machineIDs, Window: w})
	if err != nil {
		return nil, fmt.Errorf("loading slots: %w", err)
	}
	var woIDs []string
	for _, s := range candidates {
		if s.WorkOrderID != "" {
			woIDs = append(woIDs, s.WorkOrderID)
		}
	}
	if len(woIDs) == 0 {
		return stored, nil
	}
	siblings, err := e.slots.Slots(ctx, store.SlotQuery{WorkOrderIDs: uniqueSorted(woIDs)})
	if err != nil {
		return nil, fmt.Errorf("loading work order slots: %w", err)
	}
	return overlay(stored, siblings), nil
}

// overlay returns base with every slot of top replacing the one with the
// same id, and the remaining top slots appended.
func overlay(base, top []model.ScheduleSlot) []model.ScheduleSlot {
	replaced := make(map[string]bool, len(top))
	for _, s := range top {
		replaced[s.ID] = true
	}
	out := make([]model.ScheduleSlot, 0, len(base)+len(top))
	for _, s := range base {
		if !replaced[s.ID] {
			out = append(out, s)
		}
	}
	return append(out, top...)
}

func sortConflicts(cs []model.SchedulingConflict) {
	conflict.Sort(cs)
}
