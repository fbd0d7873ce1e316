package metrics

import "github.com/kilianp07/shopsched/core/model"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPlanResult forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordPlanResult(r PlanResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordPlanResult(r); err != nil {
			return err
		}
	}
	return nil
}

// RecordUtilization forwards buckets to sinks that record utilization.
func (m *MultiSink) RecordUtilization(buckets []model.CapacityBucket) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(UtilizationRecorder); ok {
			if err := rec.RecordUtilization(buckets); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordConflicts forwards conflict events.
func (m *MultiSink) RecordConflicts(evs []ConflictEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ConflictRecorder); ok {
			if err := rec.RecordConflicts(evs); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordPlanMetrics forwards plan metric snapshots.
func (m *MultiSink) RecordPlanMetrics(pm model.PlanMetrics) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(PlanMetricsRecorder); ok {
			if err := rec.RecordPlanMetrics(pm); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCommitRetry forwards retry notifications.
func (m *MultiSink) RecordCommitRetry(run Run, machineIDs []string) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(CommitRetryRecorder); ok {
			if err := rec.RecordCommitRetry(run, machineIDs); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCommit forwards committed change notifications.
func (m *MultiSink) RecordCommit(ev CommitEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(CommitRecorder); ok {
			if err := rec.RecordCommit(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the sinks that hold resources.
func (m *MultiSink) Close() { closeAll(m.Sinks) }
