// Package conflict validates a set of schedule slots against machine
// capability, capacity and routing precedence.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/shopsched/core/capacity"
	"github.com/kilianp07/shopsched/core/model"
)

// Snapshot is the read-only state a validation runs against.
type Snapshot struct {
	Slots        []model.ScheduleSlot
	Machines     map[string]model.Machine
	Capabilities []model.MachineCapability
	WorkOrders   map[string]model.WorkOrder
	Policy       model.SchedulingPolicy
	// Granularity of the buckets used for the overload check; day when empty.
	Granularity model.Granularity
}

// Validate returns every violation found in the snapshot. Machines are
// checked in parallel; the result is sorted and does not depend on
// scheduling of the workers.
func Validate(ctx context.Context, snap Snapshot) ([]model.SchedulingConflict, error) {
	g := snap.Granularity
	if g == "" {
		g = model.GranularityDay
	}
	caps := capabilityIndex(snap.Capabilities)

	var (
		mu  sync.Mutex
		out []model.SchedulingConflict
	)
	emit := func(cs ...model.SchedulingConflict) {
		mu.Lock()
		out = append(out, cs...)
		mu.Unlock()
	}

	byMachine := make(map[string][]model.ScheduleSlot)
	var wellFormed []model.ScheduleSlot
	for _, s := range snap.Slots {
		if c, bad := malformed(s, snap); bad {
			emit(c)
			continue
		}
		wellFormed = append(wellFormed, s)
		byMachine[s.MachineID] = append(byMachine[s.MachineID], s)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for id, slots := range byMachine {
		m := snap.Machines[id]
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cs, err := checkMachine(m, slots, snap, caps, g)
			if err != nil {
				return err
			}
			emit(cs...)
			return nil
		})
	}
	eg.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(checkPrecedence(wellFormed, snap.WorkOrders)...)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	Sort(out)
	return out, nil
}

// Sort orders conflicts by machine, kind, slots, operation and message.
func Sort(cs []model.SchedulingConflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.MachineID != b.MachineID {
			return a.MachineID < b.MachineID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		sa, sb := strings.Join(a.SlotIDs, ","), strings.Join(b.SlotIDs, ",")
		if sa != sb {
			return sa < sb
		}
		if a.OperationID != b.OperationID {
			return a.OperationID < b.OperationID
		}
		return a.Message < b.Message
	})
}

func malformed(s model.ScheduleSlot, snap Snapshot) (model.SchedulingConflict, bool) {
	c := model.SchedulingConflict{
		Kind:        model.ConflictMalformedSlot,
		SlotIDs:     []string{s.ID},
		WorkOrderID: s.WorkOrderID,
		OperationID: s.OperationID,
		MachineID:   s.MachineID,
		Severity:    model.SeverityCritical,
	}
	if err := s.Validate(); err != nil {
		c.Message = err.Error()
		return c, true
	}
	if _, ok := snap.Machines[s.MachineID]; !ok {
		c.Message = fmt.Sprintf("slot %s references unknown machine %s", s.ID, s.MachineID)
		return c, true
	}
	if _, ok := lookupOperation(s, snap.WorkOrders); !ok {
		c.Message = fmt.Sprintf("slot %s references unknown operation %s", s.ID, s.OperationID)
		return c, true
	}
	return c, false
}

func lookupOperation(s model.ScheduleSlot, orders map[string]model.WorkOrder) (model.Operation, bool) {
	wo, ok := orders[s.WorkOrderID]
	if !ok {
		return model.Operation{}, false
	}
	return wo.Operation(s.OperationID)
}

func capabilityIndex(caps []model.MachineCapability) map[string]bool {
	idx := make(map[string]bool, len(caps))
	for _, c := range caps {
		if c.IsActive {
			idx[c.MachineID+"\x00"+c.OperationType] = true
		}
	}
	return idx
}

func checkMachine(m model.Machine, slots []model.ScheduleSlot, snap Snapshot, caps map[string]bool, g model.Granularity) ([]model.SchedulingConflict, error) {
	var out []model.SchedulingConflict
	limit := snap.Policy.OverloadLimit()

	for _, s := range slots {
		op, _ := lookupOperation(s, snap.WorkOrders)
		if !caps[m.ID+"\x00"+op.Type] || (op.MachineType != "" && op.MachineType != m.Type) {
			out = append(out, model.SchedulingConflict{
				Kind:        model.ConflictCapabilityMismatch,
				SlotIDs:     []string{s.ID},
				WorkOrderID: s.WorkOrderID,
				OperationID: s.OperationID,
				MachineID:   m.ID,
				Severity:    model.SeverityCritical,
				Message:     fmt.Sprintf("machine %s has no active %s capability", m.ID, op.Type),
			})
		}
	}

	span := slots[0].Window()
	for _, s := range slots[1:] {
		if s.Start.Before(span.Start) {
			span.Start = s.Start
		}
		if s.End.After(span.End) {
			span.End = s.End
		}
	}
	buckets, err := capacity.Buckets(m, slots, capacity.Cover(span, g), g)
	if err != nil {
		return nil, fmt.Errorf("buckets for %s: %w", m.ID, err)
	}

	sorted := append([]model.ScheduleSlot(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].ID < sorted[j].ID
	})
	for i := range sorted {
		for j := i + 1; j < len(sorted) && sorted[j].Start.Before(sorted[i].End); j++ {
			a, b := sorted[i], sorted[j]
			overlap, _ := a.Window().Intersect(b.Window())
			if snap.Policy.AllowOverload && withinLimit(buckets, overlap, limit) {
				continue
			}
			ids := []string{a.ID, b.ID}
			sort.Strings(ids)
			out = append(out, model.SchedulingConflict{
				Kind:      model.ConflictDoubleBooking,
				SlotIDs:   ids,
				MachineID: m.ID,
				Severity:  model.SeverityCritical,
				Message: fmt.Sprintf("slots %s and %s overlap on %s for %.0f min",
					ids[0], ids[1], m.ID, overlap.Minutes()),
			})
		}
	}

	for _, b := range buckets {
		if !b.IsOverloaded {
			continue
		}
		sev := model.SeverityCritical
		if snap.Policy.AllowOverload && b.AvailableMinutes > 0 && !b.OverloadedBeyond(limit) {
			sev = model.SeverityWarning
		}
		out = append(out, model.SchedulingConflict{
			Kind:      model.ConflictOverload,
			SlotIDs:   slotsIn(slots, b.Window()),
			MachineID: m.ID,
			Severity:  sev,
			Message: fmt.Sprintf("%s bucket %s on %s at %.0f%% (%.0f/%.0f min)",
				b.Granularity, b.Start.Format("2006-01-02T15:04"), m.ID, b.Utilization*100, b.PlannedMinutes, b.AvailableMinutes),
		})
	}
	return out, nil
}

func withinLimit(buckets []model.CapacityBucket, w model.TimeWindow, limit float64) bool {
	for _, b := range buckets {
		if !b.Window().Overlaps(w) {
			continue
		}
		if b.AvailableMinutes <= 0 || b.OverloadedBeyond(limit) {
			return false
		}
	}
	return true
}

func slotsIn(slots []model.ScheduleSlot, w model.TimeWindow) []string {
	var ids []string
	for _, s := range slots {
		if s.Window().Overlaps(w) {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// checkPrecedence flags operations that start before their predecessor's
// slot ends, across machines.
func checkPrecedence(slots []model.ScheduleSlot, orders map[string]model.WorkOrder) []model.SchedulingConflict {
	byOp := make(map[model.OpRef]model.ScheduleSlot, len(slots))
	for _, s := range slots {
		byOp[s.Ref()] = s
	}
	var out []model.SchedulingConflict
	for _, s := range slots {
		wo := orders[s.WorkOrderID]
		op, ok := wo.Operation(s.OperationID)
		if !ok {
			continue
		}
		pred, ok := wo.Predecessor(op)
		if !ok {
			continue
		}
		ps, ok := byOp[wo.Ref(pred)]
		if !ok || !s.Start.Before(ps.End) {
			continue
		}
		out = append(out, model.SchedulingConflict{
			Kind:        model.ConflictPrecedenceViolation,
			SlotIDs:     []string{ps.ID, s.ID},
			WorkOrderID: s.WorkOrderID,
			OperationID: s.OperationID,
			MachineID:   s.MachineID,
			Severity:    model.SeverityCritical,
			Message: fmt.Sprintf("operation %s starts %s before predecessor %s ends %s",
				op.ID, s.Start.Format("2006-01-02T15:04"), pred.ID, ps.End.Format("2006-01-02T15:04")),
		})
	}
	return out
}
