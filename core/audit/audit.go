// Package audit keeps the transaction log of committed plans, bulk updates
// and status changes.
package audit

import (
	"context"
	"time"

	"github.com/kilianp07/shopsched/core/model"
)

const (
	ActionPlan       = "plan"
	ActionReplan     = "replan"
	ActionBulkUpdate = "bulk_update"
	ActionSlotStatus = "slot_status"
)

// Entry captures one committed change.
type Entry struct {
	Timestamp  time.Time                  `json:"timestamp"`
	Action     string                     `json:"action"`
	PlanID     string                     `json:"plan_id,omitempty"`
	MachineIDs []string                   `json:"machine_ids,omitempty"`
	SlotIDs    []string                   `json:"slot_ids,omitempty"`
	Conflicts  []model.SchedulingConflict `json:"conflicts,omitempty"`
	Detail     string                     `json:"detail,omitempty"`
}

// Query filters entries. Zero fields match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	Action    string
	MachineID string
}

// Store persists entries and supports querying.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}

// Match reports whether e passes q.
func (q Query) Match(e Entry) bool {
	if !q.Start.IsZero() && e.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.Timestamp.After(q.End) {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.MachineID != "" {
		for _, id := range e.MachineIDs {
			if id == q.MachineID {
				return true
			}
		}
		return false
	}
	return true
}

// NopStore discards entries.
type NopStore struct{}

func (NopStore) Append(context.Context, Entry) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Entry, error) { return nil, nil }
func (NopStore) Close() error                                  { return nil }
