package model

import (
	"fmt"
	"strings"
)

// Rule selects the dispatch rule used to sequence operations.
type Rule int

const (
	RuleEDD Rule = iota
	RuleSPT
	RuleCR
	RuleFIFO
	RulePriority
)

// Rules lists every dispatch rule in declaration order.
var Rules = []Rule{RuleEDD, RuleSPT, RuleCR, RuleFIFO, RulePriority}

// String returns the canonical upper-case name of the rule.
func (r Rule) String() string {
	switch r {
	case RuleEDD:
		return "EDD"
	case RuleSPT:
		return "SPT"
	case RuleCR:
		return "CR"
	case RuleFIFO:
		return "FIFO"
	case RulePriority:
		return "PRIORITY"
	default:
		return "unknown"
	}
}

// IsValid reports whether r is one of the declared rules.
func (r Rule) IsValid() bool {
	return r >= RuleEDD && r <= RulePriority
}

// ParseRule converts a rule name (case-insensitive) into a Rule.
func ParseRule(s string) (Rule, error) {
	for _, r := range Rules {
		if strings.EqualFold(s, r.String()) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown rule %q", ErrInvalidPolicy, s)
}

func (r Rule) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: rule %d", ErrInvalidPolicy, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Rule) UnmarshalText(b []byte) error {
	v, err := ParseRule(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Priority is the urgency of a work order.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities so that a higher rank is more urgent. Unknown
// values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type WorkOrderStatus string

const (
	WorkOrderPending    WorkOrderStatus = "pending"
	WorkOrderScheduled  WorkOrderStatus = "scheduled"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderCompleted  WorkOrderStatus = "completed"
	WorkOrderDelayed    WorkOrderStatus = "delayed"
)

type MachineStatus string

const (
	MachineRunning     MachineStatus = "running"
	MachineIdle        MachineStatus = "idle"
	MachineMaintenance MachineStatus = "maintenance"
	MachineOffline     MachineStatus = "offline"
)

type SlotStatus string

const (
	SlotScheduled  SlotStatus = "scheduled"
	SlotInProgress SlotStatus = "in_progress"
	SlotCompleted  SlotStatus = "completed"
	SlotDelayed    SlotStatus = "delayed"
)

// IsValid reports whether s is a known slot status.
func (s SlotStatus) IsValid() bool {
	switch s {
	case SlotScheduled, SlotInProgress, SlotCompleted, SlotDelayed:
		return true
	default:
		return false
	}
}

// Granularity is the width of a capacity bucket.
type Granularity string

const (
	GranularityShift Granularity = "shift"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
)

// IsValid reports whether g is a supported bucket width.
func (g Granularity) IsValid() bool {
	return g == GranularityShift || g == GranularityDay || g == GranularityWeek
}

type PlanType string

const (
	PlanDaily   PlanType = "daily"
	PlanWeekly  PlanType = "weekly"
	PlanMonthly PlanType = "monthly"
)

type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanArchived  PlanStatus = "archived"
	PlanPaused    PlanStatus = "paused"
)

// ConflictKind classifies a scheduling conflict.
type ConflictKind string

const (
	ConflictDoubleBooking       ConflictKind = "double_booking"
	ConflictCapabilityMismatch  ConflictKind = "capability_mismatch"
	ConflictOverload            ConflictKind = "overload"
	ConflictPrecedenceViolation ConflictKind = "precedence_violation"
	// Capacity-shortfall signals raised by the allocator.
	ConflictNoFeasibleMachine ConflictKind = "no_feasible_machine"
	ConflictCapacityExceeded  ConflictKind = "capacity_exceeded"
	ConflictMalformedSlot     ConflictKind = "malformed_slot"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)
