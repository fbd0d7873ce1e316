package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilianp07/shopsched/core/audit"
	"github.com/kilianp07/shopsched/core/capacity"
	"github.com/kilianp07/shopsched/core/events"
	"github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/store"
)

// BulkRequest edits several slots in one transaction.
type BulkRequest struct {
	Patches []model.SlotPatch `json:"patches"`
	// Mode defaults to the engine configuration.
	Mode   BulkMode                `json:"mode,omitempty"`
	Policy *model.SchedulingPolicy `json:"policy,omitempty"`
}

// BulkOutcome reports the slots after the call. When a strict batch is
// refused, Slots holds the unchanged originals and Applied is false.
type BulkOutcome struct {
	Slots     []model.ScheduleSlot       `json:"slots"`
	Conflicts []model.SchedulingConflict `json:"conflicts"`
	Applied   bool                       `json:"applied"`
	Retries   int                        `json:"retries"`
}

// BulkUpdateSlots applies every patch atomically. Conflicts caused by the
// edited slots are returned; in strict mode a critical conflict leaves all
// slots unmoved, in lenient mode the batch is committed anyway. Malformed
// patches reject the whole batch with model.ErrMalformedSlot.
func (e *Engine) BulkUpdateSlots(ctx context.Context, req BulkRequest) (BulkOutcome, error) {
	out, err := e.bulk(ctx, req)
	return out, e.fail(metrics.RunBulkUpdate, err)
}

func (e *Engine) bulk(ctx context.Context, req BulkRequest) (BulkOutcome, error) {
	started := e.clock()
	mode := req.Mode
	if mode == "" {
		mode = e.cfg.BulkMode
	}
	if mode != BulkStrict && mode != BulkLenient {
		return BulkOutcome{}, fmt.Errorf("%w: bulk mode %q", model.ErrInvalidRequest, mode)
	}
	pol := e.cfg.DefaultPolicy
	if req.Policy != nil {
		pol = *req.Policy
		if err := pol.Validate(); err != nil {
			return BulkOutcome{}, err
		}
	}
	if len(req.Patches) == 0 {
		return BulkOutcome{Applied: true}, nil
	}
	var ids []string
	seen := make(map[string]bool)
	for i, p := range req.Patches {
		if p.SlotID == "" {
			return BulkOutcome{}, fmt.Errorf("%w: patch %d has no slot id", model.ErrMalformedSlot, i)
		}
		if p.Status != nil && !p.Status.IsValid() {
			return BulkOutcome{}, fmt.Errorf("%w: patch %d has unknown status %q", model.ErrMalformedSlot, i, *p.Status)
		}
		if !seen[p.SlotID] {
			seen[p.SlotID] = true
			ids = append(ids, p.SlotID)
		}
	}

	current, err := e.loadSlots(ctx, ids)
	if err != nil {
		return BulkOutcome{}, err
	}
	var lockIDs []string
	for _, s := range current {
		lockIDs = append(lockIDs, s.MachineID)
	}
	for _, p := range req.Patches {
		if p.MachineID != nil {
			lockIDs = append(lockIDs, *p.MachineID)
		}
	}
	lockIDs = uniqueSorted(lockIDs)
	release, err := e.locks.TryAcquire(lockIDs)
	if err != nil {
		return BulkOutcome{}, err
	}
	defer release()

	machines, err := e.machines.Machines(ctx, nil)
	if err != nil {
		return BulkOutcome{}, fmt.Errorf("loading machines: %w", err)
	}
	known := machineIndex(machines)
	caps, err := e.machines.Capabilities(ctx, machineIDs(machines))
	if err != nil {
		return BulkOutcome{}, fmt.Errorf("loading capabilities: %w", err)
	}

	var (
		out     BulkOutcome
		updated []model.ScheduleSlot
		merged  []model.ScheduleSlot
		span    model.TimeWindow
	)
	out.Retries, err = e.withRetry(ctx, metrics.RunBulkUpdate, lockIDs, func(ctx context.Context) error {
		versions, err := e.slots.Versions(ctx, lockIDs)
		if err != nil {
			return fmt.Errorf("reading versions: %w", err)
		}
		current, err := e.loadSlots(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]model.ScheduleSlot, len(current))
		for _, s := range current {
			if !contains(lockIDs, s.MachineID) {
				return fmt.Errorf("slot %s moved to %s: %w", s.ID, s.MachineID, model.ErrConcurrentModification)
			}
			byID[s.ID] = s
		}
		for _, p := range req.Patches {
			byID[p.SlotID] = p.Apply(byID[p.SlotID])
		}
		updated = make([]model.ScheduleSlot, len(ids))
		span = current[0].Window()
		for i, id := range ids {
			s := byID[id]
			if err := s.Validate(); err != nil {
				return err
			}
			if _, ok := known[s.MachineID]; !ok {
				return fmt.Errorf("%w: slot %s references unknown machine %s", model.ErrMalformedSlot, s.ID, s.MachineID)
			}
			updated[i] = s
			span = widen(widen(span, s.Window()), current[i].Window())
		}

		stored, err := e.storedAround(ctx, updated, lockIDs, capacity.Cover(span, e.cfg.Granularity))
		if err != nil {
			return err
		}
		merged = overlay(stored, updated)
		found, err := e.detect(ctx, merged, machines, caps, pol)
		if err != nil {
			return err
		}
		out.Conflicts = involving(found, updated)

		if mode == BulkStrict && criticalCount(out.Conflicts) > 0 {
			out.Slots, out.Applied = current, false
			return nil
		}
		c := store.Commit{Expected: make(map[string]int64, len(lockIDs)), Upsert: updated}
		for _, id := range lockIDs {
			c.Expected[id] = versions[id]
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.slots.Commit(ctx, c); err != nil {
			return err
		}
		for i := range updated {
			updated[i].Version = versions[updated[i].MachineID] + 1
		}
		out.Slots, out.Applied = updated, true
		return nil
	})
	if err != nil {
		return BulkOutcome{}, err
	}

	ev := events.ScheduleEvent{
		Kind:      events.KindSlotsUpdated,
		Slots:     out.Slots,
		Conflicts: out.Conflicts,
		Time:      e.clock(),
	}
	if out.Applied {
		ev.Buckets = e.bucketsFor(lockIDs, known, merged, capacity.Cover(span, e.cfg.Granularity))
	}
	res := metrics.PlanResult{
		Run:       metrics.RunBulkUpdate,
		Rule:      pol.Rule.String(),
		Slots:     len(out.Slots),
		Conflicts: len(out.Conflicts),
		Critical:  criticalCount(out.Conflicts),
		Retries:   out.Retries,
		Committed: out.Applied,
		Duration:  e.clock().Sub(started),
		Time:      ev.Time,
	}
	e.record(ctx, ev, res, audit.Entry{
		Timestamp:  ev.Time,
		Action:     audit.ActionBulkUpdate,
		MachineIDs: lockIDs,
		SlotIDs:    ids,
		Conflicts:  out.Conflicts,
		Detail:     fmt.Sprintf("mode=%s patches=%d", mode, len(req.Patches)),
	})
	if out.Applied {
		e.refreshStatuses(ctx, updated)
	}
	e.log.Infof("bulk update of %d slot(s) on [%s]: applied=%t, %d conflict(s) (%d critical)",
		len(ids), strings.Join(lockIDs, ","), out.Applied, res.Conflicts, res.Critical)
	return out, nil
}

// SetSlotStatus records production progress on a slot and refreshes the
// derived status of its work order.
func (e *Engine) SetSlotStatus(ctx context.Context, slotID string, status model.SlotStatus) (model.ScheduleSlot, error) {
	s, err := e.setSlotStatus(ctx, slotID, status)
	return s, e.fail(metrics.RunSlotStatus, err)
}

func (e *Engine) setSlotStatus(ctx context.Context, slotID string, status model.SlotStatus) (model.ScheduleSlot, error) {
	started := e.clock()
	if !status.IsValid() {
		return model.ScheduleSlot{}, fmt.Errorf("%w: unknown slot status %q", model.ErrInvalidRequest, status)
	}
	slot, err := e.slots.Slot(ctx, slotID)
	if err != nil {
		return model.ScheduleSlot{}, err
	}
	lock := []string{slot.MachineID}
	release, err := e.locks.TryAcquire(lock)
	if err != nil {
		return model.ScheduleSlot{}, err
	}
	defer release()

	retries, err := e.withRetry(ctx, metrics.RunSlotStatus, lock, func(ctx context.Context) error {
		versions, err := e.slots.Versions(ctx, lock)
		if err != nil {
			return fmt.Errorf("reading versions: %w", err)
		}
		fresh, err := e.slots.Slot(ctx, slotID)
		if err != nil {
			return err
		}
		if fresh.MachineID != slot.MachineID {
			return fmt.Errorf("slot %s moved to %s: %w", slotID, fresh.MachineID, model.ErrConcurrentModification)
		}
		fresh.Status = status
		v := versions[fresh.MachineID]
		if err := e.slots.Commit(ctx, store.Commit{
			Expected: map[string]int64{fresh.MachineID: v},
			Upsert:   []model.ScheduleSlot{fresh},
		}); err != nil {
			return err
		}
		fresh.Version = v + 1
		slot = fresh
		return nil
	})
	if err != nil {
		return model.ScheduleSlot{}, err
	}

	ev := events.ScheduleEvent{Kind: events.KindSlotStatus, Slots: []model.ScheduleSlot{slot}, Time: e.clock()}
	e.record(ctx, ev, metrics.PlanResult{
		Run:       metrics.RunSlotStatus,
		Slots:     1,
		Retries:   retries,
		Committed: true,
		Duration:  e.clock().Sub(started),
		Time:      ev.Time,
	}, audit.Entry{
		Timestamp:  ev.Time,
		Action:     audit.ActionSlotStatus,
		MachineIDs: lock,
		SlotIDs:    []string{slot.ID},
		Detail:     "status=" + string(status),
	})
	e.refreshStatuses(ctx, []model.ScheduleSlot{slot})
	return slot, nil
}

func (e *Engine) loadSlots(ctx context.Context, ids []string) ([]model.ScheduleSlot, error) {
	out := make([]model.ScheduleSlot, 0, len(ids))
	for _, id := range ids {
		s, err := e.slots.Slot(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// bucketsFor computes the load of the given machines over r.
func (e *Engine) bucketsFor(ids []string, known map[string]model.Machine, slots []model.ScheduleSlot, r model.TimeWindow) []model.CapacityBucket {
	var out []model.CapacityBucket
	for _, id := range ids {
		m, ok := known[id]
		if !ok {
			continue
		}
		bs, err := capacity.Buckets(m, slots, r, e.cfg.Granularity)
		if err != nil {
			e.log.Warnf("buckets for %s: %v", id, err)
			continue
		}
		out = append(out, bs...)
	}
	return out
}

func widen(w, o model.TimeWindow) model.TimeWindow {
	if o.Start.Before(w.Start) {
		w.Start = o.Start
	}
	if o.End.After(w.End) {
		w.End = o.End
	}
	return w
}
