package metrics

import (
	"context"

	"github.com/kilianp07/shopsched/core/events"
	coremetrics "github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/infra/logger"
	"github.com/kilianp07/shopsched/internal/eventbus"
)

// StartEventCollector subscribes to the schedule bus and records committed
// changes on sinks implementing coremetrics.CommitRecorder. It stops when
// the context is canceled. Recording failures are logged and skipped.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.ScheduleEvent], sink coremetrics.MetricsSink, log logger.Logger) {
	if bus == nil || sink == nil {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	rec, ok := sink.(coremetrics.CommitRecorder)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := rec.RecordCommit(coremetrics.CommitEvent{
					Kind:     string(ev.Kind),
					PlanID:   ev.PlanID,
					Machines: ev.Machines(),
					Slots:    len(ev.Slots),
					Time:     ev.Time,
				}); err != nil {
					log.Warnf("record %s commit: %v", ev.Kind, err)
				}
			}
		}
	}()
}
