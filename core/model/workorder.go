package model

import "time"

// WorkOrder is a request to manufacture Quantity units of Part. It is owned
// by an external registry; the engine only writes back derived status.
type WorkOrder struct {
	ID         string          `json:"id" yaml:"id"`
	Part       string          `json:"part" yaml:"part"`
	Quantity   int             `json:"quantity" yaml:"quantity"`
	DueDate    time.Time       `json:"due_date" yaml:"due_date"`
	Priority   Priority        `json:"priority" yaml:"priority"`
	Operations []Operation     `json:"operations" yaml:"operations"`
	Status     WorkOrderStatus `json:"status" yaml:"status"`
	// CreatedAt is the arrival timestamp used by FIFO sequencing.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Ref returns the reference of op inside this work order.
func (w WorkOrder) Ref(op Operation) OpRef {
	return OpRef{WorkOrderID: w.ID, OperationID: op.ID}
}

// Operation is one routing step of a work order.
type Operation struct {
	ID          string `json:"id" yaml:"id"`
	WorkOrderID string `json:"work_order_id" yaml:"work_order_id"`
	// Type is the operation type (TURNING, MILLING, ...) matched against
	// machine capabilities.
	Type            string `json:"type" yaml:"type"`
	DurationMinutes int    `json:"duration_minutes" yaml:"duration_minutes"`
	// MachineType optionally restricts the operation to machines of a type.
	MachineType string `json:"machine_type,omitempty" yaml:"machine_type,omitempty"`
	Sequence    int    `json:"sequence" yaml:"sequence"`
}

// Duration returns the estimated processing time.
func (o Operation) Duration() time.Duration {
	return time.Duration(o.DurationMinutes) * time.Minute
}

// Operation returns the operation with the given id.
func (w WorkOrder) Operation(id string) (Operation, bool) {
	for _, op := range w.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// Predecessor returns the operation immediately before op in sequence order.
func (w WorkOrder) Predecessor(op Operation) (Operation, bool) {
	var (
		prev  Operation
		found bool
	)
	for _, o := range w.Operations {
		if o.ID == op.ID || o.Sequence >= op.Sequence {
			continue
		}
		if !found || o.Sequence > prev.Sequence {
			prev, found = o, true
		}
	}
	return prev, found
}

// RemainingMinutes sums the estimated duration of op and every later
// operation of the work order.
func (w WorkOrder) RemainingMinutes(op Operation) int {
	total := 0
	seen := false
	for _, o := range w.Operations {
		if o.Sequence >= op.Sequence {
			total += o.DurationMinutes
		}
		if o.ID == op.ID {
			seen = true
		}
	}
	if !seen {
		total += op.DurationMinutes
	}
	return total
}
