// Package allocator places sequenced operations onto machine timelines.
//
// Allocation is greedy and single pass: each operation takes the earliest
// window on the best ranked feasible machine and the timeline is updated
// before the next operation is considered. Operations that cannot be placed
// are reported as conflicts next to the slots that were created.
package allocator

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/shopsched/core/capacity"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/policy"
)

// Input is everything one allocation run needs.
type Input struct {
	// Ordered holds the candidates in dispatch order.
	Ordered      []policy.Candidate
	Policy       model.SchedulingPolicy
	Horizon      model.TimeWindow
	Timelines    map[string]*capacity.Timeline
	Capabilities []model.MachineCapability
	// Scheduled maps operations already holding a slot to their end time.
	Scheduled map[model.OpRef]time.Time
	// NewID generates slot identifiers; uuid strings when nil.
	NewID func() string
}

// Result is the outcome of an allocation run.
type Result struct {
	Slots     []model.ScheduleSlot
	Conflicts []model.SchedulingConflict
}

type ranked struct {
	timeline *capacity.Timeline
	cost     float64
}

// Allocate places every candidate or reports why it could not be placed.
func Allocate(in Input) Result {
	newID := in.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	ends := make(map[model.OpRef]time.Time, len(in.Scheduled)+len(in.Ordered))
	for ref, end := range in.Scheduled {
		ends[ref] = end
	}
	failed := make(map[model.OpRef]bool)
	var res Result

	for _, c := range in.Ordered {
		op, wo := c.Operation, c.WorkOrder
		if op.WorkOrderID == "" {
			op.WorkOrderID = wo.ID
		}
		ref := wo.Ref(op)
		if op.DurationMinutes <= 0 {
			failed[ref] = true
			res.Conflicts = append(res.Conflicts, conflict(model.ConflictMalformedSlot, model.SeverityCritical, op, "",
				fmt.Sprintf("operation %s has non-positive duration", op.ID)))
			continue
		}

		notBefore := in.Horizon.Start
		if pred, ok := wo.Predecessor(op); ok {
			if failed[wo.Ref(pred)] {
				failed[ref] = true
				res.Conflicts = append(res.Conflicts, conflict(model.ConflictCapacityExceeded, model.SeverityCritical, op, "",
					fmt.Sprintf("predecessor %s of operation %s was not scheduled", pred.ID, op.ID)))
				continue
			}
			if end, ok := ends[wo.Ref(pred)]; ok && end.After(notBefore) {
				notBefore = end
			}
		}

		machines := feasible(op, in.Capabilities, in.Timelines)
		if len(machines) == 0 {
			failed[ref] = true
			res.Conflicts = append(res.Conflicts, conflict(model.ConflictNoFeasibleMachine, model.SeverityCritical, op, "",
				fmt.Sprintf("no active %s capability on any usable machine", op.Type)))
			continue
		}

		tl, w, limit, ok := place(machines, notBefore, op.Duration(), in.Policy)
		if !ok {
			failed[ref] = true
			res.Conflicts = append(res.Conflicts, conflict(model.ConflictCapacityExceeded, model.SeverityCritical, op, "",
				fmt.Sprintf("operation %s (%d min) does not fit any feasible machine before %s",
					op.ID, op.DurationMinutes, in.Horizon.End.Format(time.RFC3339))))
			continue
		}

		slot := model.ScheduleSlot{
			ID:          newID(),
			WorkOrderID: wo.ID,
			OperationID: op.ID,
			MachineID:   tl.Machine().ID,
			Start:       w.Start,
			End:         w.End,
			Status:      model.SlotScheduled,
			Priority:    wo.Priority,
		}
		if skipped := tl.SkippedBuckets(notBefore, w.Start, limit); len(skipped) > 0 {
			deferred := conflict(model.ConflictCapacityExceeded, model.SeverityInfo, op, slot.MachineID,
				fmt.Sprintf("operation %s deferred past %d bucket(s) from %s with insufficient room",
					op.ID, len(skipped), skipped[0].Start.Format(time.RFC3339)))
			deferred.SlotIDs = []string{slot.ID}
			res.Conflicts = append(res.Conflicts, deferred)
		}
		tl.Place(slot)
		ends[ref] = slot.End
		res.Slots = append(res.Slots, slot)
	}
	return res
}

// place tries the strict phase on every machine in rank order, then the
// relaxed phase when overload is allowed. The first machine that offers a
// window wins.
func place(machines []ranked, notBefore time.Time, d time.Duration, p model.SchedulingPolicy) (*capacity.Timeline, model.TimeWindow, float64, bool) {
	for _, m := range machines {
		if w, ok := m.timeline.EarliestWindow(notBefore, d, 1, false); ok {
			return m.timeline, w, 1, true
		}
	}
	if !p.AllowOverload {
		return nil, model.TimeWindow{}, 0, false
	}
	limit := p.OverloadLimit()
	for _, m := range machines {
		if w, ok := m.timeline.EarliestWindow(notBefore, d, limit, true); ok {
			return m.timeline, w, limit, true
		}
	}
	return nil, model.TimeWindow{}, 0, false
}

// feasible returns the usable machines holding an active capability for the
// operation type, ranked by overload, utilization, cost and id.
func feasible(op model.Operation, caps []model.MachineCapability, timelines map[string]*capacity.Timeline) []ranked {
	seen := make(map[string]bool)
	var out []ranked
	for _, c := range caps {
		if !c.IsActive || c.OperationType != op.Type || seen[c.MachineID] {
			continue
		}
		tl, ok := timelines[c.MachineID]
		if !ok {
			continue
		}
		m := tl.Machine()
		if !m.Usable() || (op.MachineType != "" && m.Type != op.MachineType) {
			continue
		}
		seen[c.MachineID] = true
		out = append(out, ranked{timeline: tl, cost: c.CostPerHour})
	}
	type key struct {
		overloaded bool
		util       float64
	}
	keys := make(map[string]key, len(out))
	for _, r := range out {
		keys[r.timeline.Machine().ID] = key{overloaded: r.timeline.Overloaded(), util: r.timeline.Utilization()}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ka, kb := keys[a.timeline.Machine().ID], keys[b.timeline.Machine().ID]
		if ka.overloaded != kb.overloaded {
			return !ka.overloaded
		}
		if ka.util != kb.util {
			return ka.util < kb.util
		}
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		return a.timeline.Machine().ID < b.timeline.Machine().ID
	})
	return out
}

func conflict(kind model.ConflictKind, sev model.Severity, op model.Operation, machineID, msg string) model.SchedulingConflict {
	return model.SchedulingConflict{
		Kind:        kind,
		WorkOrderID: op.WorkOrderID,
		OperationID: op.ID,
		MachineID:   machineID,
		Severity:    sev,
		Message:     msg,
	}
}
