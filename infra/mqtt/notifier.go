package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/shopsched/core/events"
	"github.com/kilianp07/shopsched/core/model"
	coremon "github.com/kilianp07/shopsched/core/monitoring"
	coremqtt "github.com/kilianp07/shopsched/core/mqtt"
	"github.com/kilianp07/shopsched/infra/logger"
	"github.com/kilianp07/shopsched/internal/eventbus"
)

// unassigned is the topic segment for conflicts that name no machine.
const unassigned = "unassigned"

// ConflictMessage is the payload published for one machine.
type ConflictMessage struct {
	Event     string                     `json:"event"`
	PlanID    string                     `json:"plan_id,omitempty"`
	MachineID string                     `json:"machine_id"`
	Conflicts []model.SchedulingConflict `json:"conflicts"`
	Time      time.Time                  `json:"time"`
}

// ConflictNotifier publishes the conflicts of committed schedule changes
// to <prefix>/conflicts/<machineId>.
type ConflictNotifier struct {
	pub     coremqtt.Publisher
	prefix  string
	log     logger.Logger
	monitor coremon.Monitor
}

// NewConflictNotifier creates a notifier. A nil monitor disables error
// reporting.
func NewConflictNotifier(pub coremqtt.Publisher, prefix string, log logger.Logger, mon coremon.Monitor) *ConflictNotifier {
	if log == nil {
		log = logger.NopLogger{}
	}
	if mon == nil {
		mon = coremon.NopMonitor{}
	}
	return &ConflictNotifier{pub: pub, prefix: prefix, log: log, monitor: mon}
}

// Topic returns the conflict topic of a machine.
func (n *ConflictNotifier) Topic(machineID string) string {
	if machineID == "" {
		machineID = unassigned
	}
	return fmt.Sprintf("%s/conflicts/%s", n.prefix, machineID)
}

// Notify publishes one message per machine named by the event conflicts.
// Every machine is attempted; the errors are joined.
func (n *ConflictNotifier) Notify(ctx context.Context, ev events.ScheduleEvent) error {
	if len(ev.Conflicts) == 0 {
		return nil
	}
	groups := model.Conflicts(ev.Conflicts).ByMachine()
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		payload, err := json.Marshal(ConflictMessage{
			Event:     string(ev.Kind),
			PlanID:    ev.PlanID,
			MachineID: id,
			Conflicts: groups[id],
			Time:      ev.Time,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.pub.Publish(ctx, n.Topic(id), payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run forwards bus events to Notify until ctx is done.
func (n *ConflictNotifier) Run(ctx context.Context, bus *eventbus.TypedBus[events.ScheduleEvent]) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := n.Notify(ctx, ev); err != nil {
				n.log.Errorf("notify conflicts: %v", err)
				n.monitor.CaptureException(err, map[string]string{"module": "mqtt", "event": string(ev.Kind)})
			}
		}
	}
}
