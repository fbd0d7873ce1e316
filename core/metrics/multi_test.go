package metrics

import (
	"errors"
	"testing"

	"github.com/kilianp07/shopsched/core/model"
)

type recordSink struct {
	results int
	buckets int
	retries int
}

func (r *recordSink) RecordPlanResult(PlanResult) error {
	r.results++
	return nil
}

func (r *recordSink) RecordUtilization(b []model.CapacityBucket) error {
	r.buckets += len(b)
	return nil
}

func (r *recordSink) RecordCommitRetry(Run, []string) error {
	r.retries++
	return nil
}

type resultOnly struct{ err error }

func (r resultOnly) RecordPlanResult(PlanResult) error { return r.err }

func TestMultiSinkForwardsToRecorders(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, resultOnly{}, s2)
	if err := m.RecordPlanResult(PlanResult{Run: RunPlan}); err != nil {
		t.Fatalf("record result: %v", err)
	}
	if err := m.RecordUtilization([]model.CapacityBucket{{MachineID: "M1"}, {MachineID: "M2"}}); err != nil {
		t.Fatalf("record utilization: %v", err)
	}
	if err := m.RecordCommitRetry(RunBulkUpdate, []string{"M1"}); err != nil {
		t.Fatalf("record retry: %v", err)
	}
	if err := m.RecordConflicts(nil); err != nil {
		t.Fatalf("record conflicts: %v", err)
	}
	if s1.results != 1 || s2.results != 1 {
		t.Fatalf("results not forwarded")
	}
	if s1.buckets != 2 || s2.buckets != 2 {
		t.Fatalf("buckets not forwarded: %d %d", s1.buckets, s2.buckets)
	}
	if s1.retries != 1 || s2.retries != 1 {
		t.Fatalf("retries not forwarded")
	}
}

func TestMultiSinkStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	after := &recordSink{}
	m := NewMultiSink(resultOnly{err: boom}, after)
	if err := m.RecordPlanResult(PlanResult{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if after.results != 0 {
		t.Fatalf("sink after failing one should not be called")
	}
}
