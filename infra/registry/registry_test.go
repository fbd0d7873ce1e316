package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/shopsched/core/model"
)

const sample = `
machines:
  - id: M1
    name: Lathe 1
    type: LATHE
    status: running
    shifts:
      - start: "06:00"
        minutes: 480
        weekdays: [1, 2, 3, 4, 5]
  - id: M2
    name: Mill 2
    type: MILL
capabilities:
  - machine_id: M1
    operation_type: TURNING
    skill_level: 4
    cost_per_hour: 55
    is_active: true
work_orders:
  - id: WO-1
    part: shaft
    quantity: 20
    due_date: 2025-03-07T16:00:00Z
    priority: high
    operations:
      - id: WO-1-10
        type: TURNING
        duration_minutes: 90
      - id: WO-1-20
        type: MILLING
        duration_minutes: 45
plans:
  - id: P1
    name: Week 10
    type: weekly
    status: active
    range:
      start: 2025-03-03T00:00:00Z
      end: 2025-03-10T00:00:00Z
    work_order_ids: [WO-1]
    policy:
      rule: EDD
      horizon_hours: 168
`

func TestDecodeYAML(t *testing.T) {
	r, err := Decode(strings.NewReader(sample), "yaml")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ctx := context.Background()
	orders, err := r.WorkOrders(ctx, []string{"WO-1"})
	if err != nil {
		t.Fatalf("work orders: %v", err)
	}
	wo := orders[0]
	if wo.Status != model.WorkOrderPending {
		t.Fatalf("expected default pending status, got %s", wo.Status)
	}
	if wo.Operations[1].Sequence != 2 || wo.Operations[1].WorkOrderID != "WO-1" {
		t.Fatalf("operation defaults not applied: %+v", wo.Operations[1])
	}
	machines, err := r.Machines(ctx, nil)
	if err != nil || len(machines) != 2 {
		t.Fatalf("machines: %v %d", err, len(machines))
	}
	if machines[1].Status != model.MachineIdle {
		t.Fatalf("expected idle default, got %s", machines[1].Status)
	}
	if got := machines[0].Shifts[0].Weekdays; len(got) != 5 || got[0] != time.Monday {
		t.Fatalf("weekdays: %v", got)
	}
	plan, err := r.Plan(ctx, "P1")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Policy.Rule != model.RuleEDD || plan.Policy.HorizonHours != 168 {
		t.Fatalf("policy: %+v", plan.Policy)
	}
	active, _ := r.Plans(ctx, model.PlanActive)
	if len(active) != 1 {
		t.Fatalf("expected one active plan, got %d", len(active))
	}
	caps, _ := r.Capabilities(ctx, []string{"M2"})
	if len(caps) != 0 {
		t.Fatalf("expected no capability for M2, got %d", len(caps))
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "registry.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Decode(strings.NewReader("x"), "toml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestNotFoundAndStatusWrites(t *testing.T) {
	r, err := Decode(strings.NewReader(sample), "yml")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := r.WorkOrders(ctx, []string{"nope"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.SetWorkOrderStatus(ctx, "WO-1", model.WorkOrderScheduled); err != nil {
		t.Fatal(err)
	}
	orders, _ := r.WorkOrders(ctx, []string{"WO-1"})
	if orders[0].Status != model.WorkOrderScheduled {
		t.Fatalf("status not updated: %s", orders[0].Status)
	}
}

func TestReports(t *testing.T) {
	r, err := Decode(strings.NewReader(sample), "yaml")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	start := time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC)
	rep := model.ProductionReport{MachineID: "M1", Window: model.TimeWindow{Start: start, End: start.Add(8 * time.Hour)}, RunningMinutes: 400, UnitsProduced: 10, GoodUnits: 9}
	if err := r.AddReport(ctx, rep); err != nil {
		t.Fatal(err)
	}
	if err := r.AddReport(ctx, model.ProductionReport{MachineID: "M9", Window: rep.Window}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected unknown machine error, got %v", err)
	}
	got, _ := r.Reports(ctx, []string{"M1"}, model.TimeWindow{Start: start, End: start.Add(time.Hour)})
	if len(got) != 1 {
		t.Fatalf("expected 1 report, got %d", len(got))
	}
	got, _ = r.Reports(ctx, nil, model.TimeWindow{Start: start.Add(24 * time.Hour), End: start.Add(25 * time.Hour)})
	if len(got) != 0 {
		t.Fatalf("expected no report outside the window, got %d", len(got))
	}
}

func TestRejectsInvalidMachines(t *testing.T) {
	_, err := New(Data{Machines: []model.Machine{{ID: "M1", Shifts: []model.ShiftPattern{{Start: "25:99", Minutes: 60}}}}})
	if err == nil {
		t.Fatalf("expected invalid shift error")
	}
}
