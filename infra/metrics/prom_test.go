package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shopsched/core/events"
	coremetrics "github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/infra/logger"
	"github.com/kilianp07/shopsched/internal/eventbus"
)

func TestPromSinkRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordPlanResult(coremetrics.PlanResult{Run: coremetrics.RunPlan, Slots: 3, Committed: true, Duration: time.Second}))
	require.NoError(t, sink.RecordPlanResult(coremetrics.PlanResult{Run: coremetrics.RunPlan, Slots: 5}))
	require.NoError(t, sink.RecordCommitRetry(coremetrics.RunPlan, []string{"M1"}))
	require.NoError(t, sink.RecordConflicts([]coremetrics.ConflictEvent{
		{Run: coremetrics.RunPlan, Conflict: model.SchedulingConflict{Kind: model.ConflictOverload, Severity: model.SeverityWarning}},
		{Run: coremetrics.RunPlan, Conflict: model.SchedulingConflict{Kind: model.ConflictOverload, Severity: model.SeverityWarning}},
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runs.WithLabelValues("plan", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runs.WithLabelValues("plan", "false")))
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.slots.WithLabelValues("plan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("plan")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.conflicts.WithLabelValues("plan", "overload", "warning")))
}

func TestPromSinkUtilizationKeepsLatestBucket(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, sink.RecordUtilization([]model.CapacityBucket{
		{MachineID: "M1", Granularity: model.GranularityDay, Start: day.Add(24 * time.Hour), Utilization: 0.25},
		{MachineID: "M1", Granularity: model.GranularityDay, Start: day, Utilization: 1.2, IsOverloaded: true},
	}))
	assert.Equal(t, 0.25, testutil.ToFloat64(sink.utilization.WithLabelValues("M1", "day")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.overloaded.WithLabelValues("M1", "day")))

	require.NoError(t, sink.RecordPlanMetrics(model.PlanMetrics{
		PlanID:          "P1",
		ProgressPercent: 50,
		Machines:        []model.MachineOEE{{MachineID: "M1", OEE: 0.4}},
	}))
	assert.Equal(t, 50.0, testutil.ToFloat64(sink.progress.WithLabelValues("P1")))
	assert.Equal(t, 0.4, testutil.ToFloat64(sink.oee.WithLabelValues("P1", "M1")))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, first.RecordCommitRetry(coremetrics.RunBulkUpdate, nil))
	require.NoError(t, second.RecordCommitRetry(coremetrics.RunBulkUpdate, nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(first.retries.WithLabelValues("bulk_update")))
}

func TestEventCollectorCountsCommits(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)
	bus := eventbus.NewTyped[events.ScheduleEvent]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartEventCollector(ctx, bus, sink, nil)
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(events.ScheduleEvent{Kind: events.KindPlanCommitted, PlanID: "P1"})
	bus.Publish(events.ScheduleEvent{Kind: events.KindSlotsUpdated})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(sink.commits.WithLabelValues("plan_committed")) == 1 &&
			testutil.ToFloat64(sink.commits.WithLabelValues("slots_updated")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventCollectorIgnoresSinksWithoutCommitRecorder(t *testing.T) {
	bus := eventbus.NewTyped[events.ScheduleEvent]()
	StartEventCollector(context.Background(), bus, resultOnlySink{}, nil)
	assert.Equal(t, 0, bus.Subscribers())
	StartEventCollector(context.Background(), nil, resultOnlySink{}, nil)
}

type resultOnlySink struct{}

func (resultOnlySink) RecordPlanResult(coremetrics.PlanResult) error { return nil }

type failingCommitSink struct{ resultOnlySink }

func (failingCommitSink) RecordCommit(coremetrics.CommitEvent) error {
	return errors.New("influx unreachable")
}

type warnLog struct {
	logger.NopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnLog) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *warnLog) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func TestEventCollectorLogsRecordFailures(t *testing.T) {
	bus := eventbus.NewTyped[events.ScheduleEvent]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := &warnLog{}

	StartEventCollector(ctx, bus, failingCommitSink{}, log)
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish(events.ScheduleEvent{Kind: events.KindPlanCommitted, PlanID: "P1"})

	require.Eventually(t, func() bool { return len(log.lines()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, log.lines()[0], "plan_committed")
	assert.Contains(t, log.lines()[0], "influx unreachable")
}

func TestPromHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, sink.RecordPlanResult(coremetrics.PlanResult{Run: coremetrics.RunReplan, Slots: 2, Committed: true}))

	rr := httptest.NewRecorder()
	PromHandler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `scheduler_runs_total{committed="true",run="replan"} 1`))
}

func TestStartPromServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartPromServer(ctx, "127.0.0.1:0", prometheus.NewRegistry(), nil) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
