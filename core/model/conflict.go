package model

import "fmt"

// SchedulingConflict reports a rule violated by a slot set or an operation
// the allocator could not place.
type SchedulingConflict struct {
	Kind        ConflictKind `json:"kind"`
	SlotIDs     []string     `json:"slot_ids,omitempty"`
	WorkOrderID string       `json:"work_order_id,omitempty"`
	OperationID string       `json:"operation_id,omitempty"`
	MachineID   string       `json:"machine_id,omitempty"`
	Severity    Severity     `json:"severity"`
	Message     string       `json:"message"`
}

// Err maps the conflict onto the matching sentinel error, or nil for kinds
// without one.
func (c SchedulingConflict) Err() error {
	var base error
	switch c.Kind {
	case ConflictNoFeasibleMachine:
		base = ErrNoFeasibleMachine
	case ConflictCapacityExceeded:
		base = ErrCapacityExceeded
	case ConflictMalformedSlot:
		base = ErrMalformedSlot
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", base, c.Message)
}

// Blocking reports whether the conflict is critical.
func (c SchedulingConflict) Blocking() bool {
	return c.Severity == SeverityCritical
}

// Conflicts is a list of conflicts with filtering helpers.
type Conflicts []SchedulingConflict

// Critical returns only the critical conflicts.
func (cs Conflicts) Critical() Conflicts {
	var out Conflicts
	for _, c := range cs {
		if c.Blocking() {
			out = append(out, c)
		}
	}
	return out
}

// ByMachine groups the conflicts by machine id. Conflicts without a machine
// are grouped under "".
func (cs Conflicts) ByMachine() map[string]Conflicts {
	out := make(map[string]Conflicts)
	for _, c := range cs {
		out[c.MachineID] = append(out[c.MachineID], c)
	}
	return out
}
