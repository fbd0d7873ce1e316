package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/shopsched/core/audit"
	"github.com/kilianp07/shopsched/core/events"
	"github.com/kilianp07/shopsched/core/logger"
	"github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/monitoring"
	"github.com/kilianp07/shopsched/core/store"
	"github.com/kilianp07/shopsched/internal/eventbus"
)

// Deps groups the collaborators of an Engine. Orders, Machines and Slots
// are required; the others fall back to no-op implementations.
type Deps struct {
	Orders   store.WorkOrderReader
	Machines store.MachineReader
	Slots    store.SlotStore
	Plans    store.PlanReader
	Reports  store.ReportReader
	// Status receives derived work order status. Optional.
	Status  store.WorkOrderStatusWriter
	Audit   audit.Store
	Logger  logger.Logger
	Sink    metrics.MetricsSink
	Bus     *eventbus.TypedBus[events.ScheduleEvent]
	Monitor monitoring.Monitor
	Clock   func() time.Time
	NewID   func() string
}

// Engine is the scheduling orchestrator. It holds no schedule state of its
// own; every call reads fresh state from the stores.
type Engine struct {
	cfg      Config
	orders   store.WorkOrderReader
	machines store.MachineReader
	slots    store.SlotStore
	plans    store.PlanReader
	reports  store.ReportReader
	status   store.WorkOrderStatusWriter
	audit    audit.Store
	log      logger.Logger
	sink     metrics.MetricsSink
	bus      *eventbus.TypedBus[events.ScheduleEvent]
	monitor  monitoring.Monitor
	clock    func() time.Time
	newID    func() string
	locks    *MachineLocks
}

// New creates an Engine. cfg is completed with defaults before validation.
func New(cfg Config, d Deps) (*Engine, error) {
	if d.Orders == nil {
		return nil, fmt.Errorf("engine: nil work order reader")
	}
	if d.Machines == nil {
		return nil, fmt.Errorf("engine: nil machine reader")
	}
	if d.Slots == nil {
		return nil, fmt.Errorf("engine: nil slot store")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		cfg:      cfg,
		orders:   d.Orders,
		machines: d.Machines,
		slots:    d.Slots,
		plans:    d.Plans,
		reports:  d.Reports,
		status:   d.Status,
		audit:    d.Audit,
		log:      d.Logger,
		sink:     d.Sink,
		bus:      d.Bus,
		monitor:  d.Monitor,
		clock:    d.Clock,
		newID:    d.NewID,
		locks:    NewMachineLocks(),
	}
	if e.audit == nil {
		e.audit = audit.NopStore{}
	}
	if e.log == nil {
		e.log = logger.Nop{}
	}
	if e.sink == nil {
		e.sink = metrics.NopSink{}
	}
	if e.monitor == nil {
		e.monitor = monitoring.NopMonitor{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Locks exposes the machine locks so callers can tell whether a machine is
// being mutated.
func (e *Engine) Locks() *MachineLocks { return e.locks }

// withRetry runs fn until it succeeds, fails with an error other than
// model.ErrConcurrentModification or the retry budget is spent. It returns
// the number of retries performed.
func (e *Engine) withRetry(ctx context.Context, run metrics.Run, ids []string, fn func(context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return attempt, cerr
		}
		if attempt > 0 {
			e.log.Debugw("retrying after concurrent modification", map[string]any{
				"run":      string(run),
				"attempt":  attempt,
				"machines": ids,
			})
			if rec, ok := e.sink.(metrics.CommitRetryRecorder); ok {
				if rerr := rec.RecordCommitRetry(run, ids); rerr != nil {
					e.log.Warnf("record retry: %v", rerr)
				}
			}
		}
		err = fn(ctx)
		if !errors.Is(err, model.ErrConcurrentModification) {
			return attempt, err
		}
	}
	return e.cfg.MaxRetries, fmt.Errorf("giving up after %d retries: %w", e.cfg.MaxRetries, err)
}

// fail reports unexpected infrastructure errors to the monitor and returns
// err unchanged. Domain errors and cancellations are not reported.
func (e *Engine) fail(run metrics.Run, err error) error {
	if err == nil || expected(err) {
		return err
	}
	e.monitor.CaptureException(err, map[string]string{"operation": string(run)})
	e.log.Errorf("%s failed: %v", run, err)
	return err
}

func expected(err error) bool {
	for _, target := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		model.ErrInvalidPolicy,
		model.ErrInvalidRequest,
		model.ErrMalformedSlot,
		model.ErrMachineBusy,
		model.ErrNotFound,
		model.ErrConcurrentModification,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// record feeds the metrics sink and, for committed changes, the event bus
// and audit log. Failures of these side channels are logged and never fail
// the call.
func (e *Engine) record(ctx context.Context, ev events.ScheduleEvent, res metrics.PlanResult, entry audit.Entry) {
	if err := e.sink.RecordPlanResult(res); err != nil {
		e.log.Warnf("record %s result: %v", res.Run, err)
	}
	if len(ev.Conflicts) > 0 {
		if rec, ok := e.sink.(metrics.ConflictRecorder); ok {
			evs := make([]metrics.ConflictEvent, len(ev.Conflicts))
			for i, c := range ev.Conflicts {
				evs[i] = metrics.ConflictEvent{Run: res.Run, Conflict: c, Time: ev.Time}
			}
			if err := rec.RecordConflicts(evs); err != nil {
				e.log.Warnf("record conflicts: %v", err)
			}
		}
	}
	if len(ev.Buckets) > 0 {
		if rec, ok := e.sink.(metrics.UtilizationRecorder); ok {
			if err := rec.RecordUtilization(ev.Buckets); err != nil {
				e.log.Warnf("record utilization: %v", err)
			}
		}
	}
	if !res.Committed {
		return
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.monitor.CaptureException(err, map[string]string{"operation": "audit"})
		e.log.Errorf("audit %s: %v", entry.Action, err)
	}
}

func criticalCount(cs []model.SchedulingConflict) int {
	return len(model.Conflicts(cs).Critical())
}

func slotIDs(slots []model.ScheduleSlot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.ID
	}
	return out
}

func machineIDs(ms []model.Machine) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func machineIndex(ms []model.Machine) map[string]model.Machine {
	out := make(map[string]model.Machine, len(ms))
	for _, m := range ms {
		out[m.ID] = m
	}
	return out
}
