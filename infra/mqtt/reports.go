package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/shopsched/core/model"
	coremon "github.com/kilianp07/shopsched/core/monitoring"
	coremqtt "github.com/kilianp07/shopsched/core/mqtt"
	"github.com/kilianp07/shopsched/core/store"
	"github.com/kilianp07/shopsched/infra/logger"
)

// ReportMessage is a production report sent by a machine controller on
// <prefix>/reports/<machineId>. The slot fields are optional and move the
// referenced slot to the given status.
type ReportMessage struct {
	Start             time.Time        `json:"start"`
	End               time.Time        `json:"end"`
	RunningMinutes    float64          `json:"running_minutes"`
	IdealCycleMinutes float64          `json:"ideal_cycle_minutes"`
	UnitsProduced     int              `json:"units_produced"`
	GoodUnits         int              `json:"good_units"`
	SlotID            string           `json:"slot_id,omitempty"`
	SlotStatus        model.SlotStatus `json:"slot_status,omitempty"`
}

// SlotStatusSetter records production progress on a slot.
type SlotStatusSetter interface {
	SetSlotStatus(ctx context.Context, slotID string, status model.SlotStatus) (model.ScheduleSlot, error)
}

// ReportListener consumes production reports from MQTT.
type ReportListener struct {
	sub     coremqtt.Subscriber
	prefix  string
	reports store.ReportWriter
	slots   SlotStatusSetter
	log     logger.Logger
	monitor coremon.Monitor
	timeout time.Duration
}

// NewReportListener creates a listener. slots may be nil when reports must
// not touch slot status.
func NewReportListener(sub coremqtt.Subscriber, prefix string, reports store.ReportWriter, slots SlotStatusSetter, log logger.Logger, mon coremon.Monitor) *ReportListener {
	if log == nil {
		log = logger.NopLogger{}
	}
	if mon == nil {
		mon = coremon.NopMonitor{}
	}
	return &ReportListener{
		sub:     sub,
		prefix:  prefix,
		reports: reports,
		slots:   slots,
		log:     log,
		monitor: mon,
		timeout: 10 * time.Second,
	}
}

// Filter returns the subscription filter.
func (l *ReportListener) Filter() string {
	return l.prefix + "/reports/+"
}

// Start subscribes to the report topic.
func (l *ReportListener) Start() error {
	return l.sub.Subscribe(l.Filter(), func(topic string, payload []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.Handle(ctx, topic, payload); err != nil {
			l.log.Warnf("report on %s: %v", topic, err)
			if !errors.Is(err, model.ErrInvalidRequest) && !errors.Is(err, model.ErrNotFound) {
				l.monitor.CaptureException(err, map[string]string{"module": "mqtt", "topic": topic})
			}
		}
	})
}

// Handle stores one report. The machine id is the last topic segment.
func (l *ReportListener) Handle(ctx context.Context, topic string, payload []byte) error {
	machineID := topic[strings.LastIndex(topic, "/")+1:]
	if machineID == "" {
		return fmt.Errorf("%w: topic %q names no machine", model.ErrInvalidRequest, topic)
	}
	var msg ReportMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: decode report: %v", model.ErrInvalidRequest, err)
	}
	if msg.GoodUnits > msg.UnitsProduced {
		return fmt.Errorf("%w: %d good units out of %d", model.ErrInvalidRequest, msg.GoodUnits, msg.UnitsProduced)
	}
	if msg.End.After(msg.Start) && l.reports != nil {
		rep := model.ProductionReport{
			MachineID:         machineID,
			Window:            model.TimeWindow{Start: msg.Start.UTC(), End: msg.End.UTC()},
			RunningMinutes:    msg.RunningMinutes,
			IdealCycleMinutes: msg.IdealCycleMinutes,
			UnitsProduced:     msg.UnitsProduced,
			GoodUnits:         msg.GoodUnits,
		}
		if err := l.reports.AddReport(ctx, rep); err != nil {
			return fmt.Errorf("store report: %w", err)
		}
		l.log.Debugf("report for %s: %d/%d good units", machineID, msg.GoodUnits, msg.UnitsProduced)
	}
	if msg.SlotID != "" && msg.SlotStatus != "" && l.slots != nil {
		if _, err := l.slots.SetSlotStatus(ctx, msg.SlotID, msg.SlotStatus); err != nil {
			return fmt.Errorf("slot %s status: %w", msg.SlotID, err)
		}
	}
	return nil
}
