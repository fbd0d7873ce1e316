// Package store declares the collaborators the engine reads from and
// writes to. Implementations live under infra.
package store

import (
	"context"
	"sort"

	"github.com/kilianp07/shopsched/core/model"
)

// WorkOrderReader resolves work orders and their operations.
type WorkOrderReader interface {
	WorkOrders(ctx context.Context, ids []string) ([]model.WorkOrder, error)
}

// WorkOrderStatusWriter records derived work order status.
type WorkOrderStatusWriter interface {
	SetWorkOrderStatus(ctx context.Context, id string, status model.WorkOrderStatus) error
}

// MachineReader lists machines and their capabilities.
type MachineReader interface {
	Machines(ctx context.Context, ids []string) ([]model.Machine, error)
	Capabilities(ctx context.Context, machineIDs []string) ([]model.MachineCapability, error)
}

// PlanReader resolves production plans.
type PlanReader interface {
	Plan(ctx context.Context, id string) (model.ProductionPlan, error)
	Plans(ctx context.Context, status model.PlanStatus) ([]model.ProductionPlan, error)
}

// ReportReader lists production reports overlapping a window.
type ReportReader interface {
	Reports(ctx context.Context, machineIDs []string, w model.TimeWindow) ([]model.ProductionReport, error)
}

// ReportWriter stores production reports received from the shop floor.
type ReportWriter interface {
	AddReport(ctx context.Context, r model.ProductionReport) error
}

// SlotQuery filters slots. Empty fields match everything.
type SlotQuery struct {
	MachineIDs   []string
	WorkOrderIDs []string
	// Window keeps slots overlapping it when non-zero.
	Window   model.TimeWindow
	Statuses []model.SlotStatus
}

// Commit is one atomic change of the slot set. Every machine touched by the
// change must appear in Expected with the version read before computing it.
type Commit struct {
	Expected map[string]int64
	Upsert   []model.ScheduleSlot
	Delete   []string
}

// SlotStore persists schedule slots with a version stamp per machine.
type SlotStore interface {
	Slots(ctx context.Context, q SlotQuery) ([]model.ScheduleSlot, error)
	Slot(ctx context.Context, id string) (model.ScheduleSlot, error)
	Versions(ctx context.Context, machineIDs []string) (map[string]int64, error)
	// Commit applies the change if every expected version still matches,
	// otherwise it returns model.ErrConcurrentModification and changes
	// nothing. Versions of the expected machines are incremented.
	Commit(ctx context.Context, c Commit) error
	Close() error
}

// Matches reports whether s satisfies the query.
func (q SlotQuery) Matches(s model.ScheduleSlot) bool {
	if len(q.MachineIDs) > 0 && !contains(q.MachineIDs, s.MachineID) {
		return false
	}
	if len(q.WorkOrderIDs) > 0 && !contains(q.WorkOrderIDs, s.WorkOrderID) {
		return false
	}
	if !q.Window.Start.IsZero() && !q.Window.End.IsZero() && !s.Window().Overlaps(q.Window) {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, st := range q.Statuses {
			if st == s.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Machines returns the sorted set of machines the commit touches through
// upserts. Deleted slots are resolved by the store.
func (c Commit) Machines() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.Upsert {
		if !seen[s.MachineID] {
			seen[s.MachineID] = true
			out = append(out, s.MachineID)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
