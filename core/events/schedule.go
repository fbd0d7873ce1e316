package events

import (
	"time"

	"github.com/kilianp07/shopsched/core/model"
)

// Kind identifies what produced a ScheduleEvent.
type Kind string

const (
	KindPlanCommitted Kind = "plan_committed"
	KindReplanned     Kind = "replanned"
	KindSlotsUpdated  Kind = "slots_updated"
	KindSlotStatus    Kind = "slot_status"
)

// ScheduleEvent is published after every successful commit.
type ScheduleEvent struct {
	Kind   Kind
	PlanID string
	// Slots holds the slots written by the commit.
	Slots     []model.ScheduleSlot
	Conflicts []model.SchedulingConflict
	// Buckets holds the load of the touched machines after the commit.
	Buckets []model.CapacityBucket
	Time    time.Time
}

// Machines returns the ids of the machines touched by the event.
func (e ScheduleEvent) Machines() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range e.Slots {
		if !seen[s.MachineID] {
			seen[s.MachineID] = true
			out = append(out, s.MachineID)
		}
	}
	return out
}
