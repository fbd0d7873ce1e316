package metrics

import (
	"time"

	"github.com/kilianp07/shopsched/core/model"
)

// Run names the engine operation a PlanResult belongs to.
type Run string

const (
	RunPlan       Run = "plan"
	RunReplan     Run = "replan"
	RunBulkUpdate Run = "bulk_update"
	RunValidate   Run = "validate"
	RunSlotStatus Run = "slot_status"
	RunQuery      Run = "query"
)

// PlanResult summarises one engine run.
type PlanResult struct {
	Run       Run
	PlanID    string
	Rule      string
	Slots     int
	Conflicts int
	Critical  int
	Retries   int
	Committed bool
	Duration  time.Duration
	Time      time.Time
}

// MetricsSink records engine runs for observability purposes.
type MetricsSink interface {
	RecordPlanResult(r PlanResult) error
}

// UtilizationRecorder records capacity buckets after a commit or query.
type UtilizationRecorder interface {
	RecordUtilization(buckets []model.CapacityBucket) error
}

// ConflictEvent is one conflict observed during a run.
type ConflictEvent struct {
	Run      Run
	Conflict model.SchedulingConflict
	Time     time.Time
}

// ConflictRecorder records detected conflicts.
type ConflictRecorder interface {
	RecordConflicts(evs []ConflictEvent) error
}

// PlanMetricsRecorder records plan progress and OEE snapshots.
type PlanMetricsRecorder interface {
	RecordPlanMetrics(m model.PlanMetrics) error
}

// CommitRetryRecorder records optimistic-lock retries.
type CommitRetryRecorder interface {
	RecordCommitRetry(run Run, machineIDs []string) error
}

// CommitEvent describes a committed schedule change seen on the event bus.
type CommitEvent struct {
	Kind     string
	PlanID   string
	Machines []string
	Slots    int
	Time     time.Time
}

// CommitRecorder records committed schedule changes.
type CommitRecorder interface {
	RecordCommit(ev CommitEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordPlanResult(PlanResult) error              { return nil }
func (NopSink) RecordUtilization([]model.CapacityBucket) error { return nil }
func (NopSink) RecordConflicts([]ConflictEvent) error          { return nil }
func (NopSink) RecordPlanMetrics(model.PlanMetrics) error      { return nil }
func (NopSink) RecordCommitRetry(Run, []string) error          { return nil }
func (NopSink) RecordCommit(CommitEvent) error                 { return nil }
