package model

import (
	"fmt"
	"time"
)

// ScheduleSlot assigns one operation to a machine for a time window.
type ScheduleSlot struct {
	ID               string     `json:"id"`
	WorkOrderID      string     `json:"work_order_id"`
	OperationID      string     `json:"operation_id"`
	MachineID        string     `json:"machine_id"`
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	Status           SlotStatus `json:"status"`
	Priority         Priority   `json:"priority"`
	AssignedOperator string     `json:"assigned_operator,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	// DurationOverride marks a slot whose length was set explicitly and no
	// longer follows the operation estimate.
	DurationOverride bool  `json:"duration_override,omitempty"`
	Version          int64 `json:"version"`
}

// OpRef identifies an operation across work orders. Operation ids are only
// unique inside their work order.
type OpRef struct {
	WorkOrderID string
	OperationID string
}

// Ref returns the operation the slot is for.
func (s ScheduleSlot) Ref() OpRef {
	return OpRef{WorkOrderID: s.WorkOrderID, OperationID: s.OperationID}
}

// Window returns the slot interval.
func (s ScheduleSlot) Window() TimeWindow {
	return TimeWindow{Start: s.Start, End: s.End}
}

// Minutes returns the slot length in minutes.
func (s ScheduleSlot) Minutes() float64 {
	return s.Window().Minutes()
}

// Validate checks the structural invariants of a slot.
func (s ScheduleSlot) Validate() error {
	if s.MachineID == "" || s.OperationID == "" {
		return fmt.Errorf("%w: slot %q missing machine or operation", ErrMalformedSlot, s.ID)
	}
	if !s.End.After(s.Start) {
		return fmt.Errorf("%w: slot %q ends at or before its start", ErrMalformedSlot, s.ID)
	}
	if s.Status != "" && !s.Status.IsValid() {
		return fmt.Errorf("%w: slot %q has unknown status %q", ErrMalformedSlot, s.ID, s.Status)
	}
	return nil
}

// Clone returns a deep copy of the slot.
func (s ScheduleSlot) Clone() ScheduleSlot {
	if s.Tags != nil {
		s.Tags = append([]string(nil), s.Tags...)
	}
	return s
}

// SlotPatch carries the fields of a bulk update for one slot. Nil fields are
// left untouched. Moving Start without End keeps the slot length.
type SlotPatch struct {
	SlotID           string      `json:"slot_id"`
	MachineID        *string     `json:"machine_id,omitempty"`
	Start            *time.Time  `json:"start,omitempty"`
	End              *time.Time  `json:"end,omitempty"`
	Status           *SlotStatus `json:"status,omitempty"`
	AssignedOperator *string     `json:"assigned_operator,omitempty"`
	Tags             []string    `json:"tags,omitempty"`
}

// Apply returns a copy of slot with the patch applied.
func (p SlotPatch) Apply(slot ScheduleSlot) ScheduleSlot {
	out := slot.Clone()
	if p.MachineID != nil {
		out.MachineID = *p.MachineID
	}
	length := slot.End.Sub(slot.Start)
	if p.Start != nil {
		out.Start = *p.Start
		out.End = out.Start.Add(length)
	}
	if p.End != nil {
		out.End = *p.End
		if !out.End.Equal(out.Start.Add(length)) {
			out.DurationOverride = true
		}
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.AssignedOperator != nil {
		out.AssignedOperator = *p.AssignedOperator
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	return out
}
