package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shopsched/core/engine"
)

const floor = `
machines:
  - id: M1
    name: Mill 1
    type: MILL
capabilities:
  - machine_id: M1
    operation_type: MILLING
    skill_level: 3
    is_active: true
work_orders:
  - id: WO-1
    part: bracket
    quantity: 10
    due_date: 2030-01-10T16:00:00Z
    operations:
      - id: WO-1-10
        type: MILLING
        duration_minutes: 60
  - id: WO-2
    part: housing
    quantity: 5
    due_date: 2030-01-11T16:00:00Z
    operations:
      - id: WO-2-10
        type: MILLING
        duration_minutes: 90
plans:
  - id: P1
    name: Week 2
    type: weekly
    status: active
    range:
      start: 2030-01-07T00:00:00Z
      end: 2030-01-14T00:00:00Z
    work_order_ids: [WO-1, WO-2]
`

func writeWorkspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	reg := filepath.Join(dir, "floor.yaml")
	require.NoError(t, os.WriteFile(reg, []byte(floor), 0o644))
	cfg := `registry:
  path: "` + reg + `"
audit:
  backend: "none"
metrics:
  sinks:
    - type: "nop"
log:
  level: "error"
`
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dir, cfgPath
}

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestPlanCmdWorkOrders(t *testing.T) {
	_, cfg := writeWorkspace(t)
	out, err := executeCmd(t, "-c", cfg, "plan", "--work-orders", "WO-1",
		"--from", "2030-01-07", "--to", "2030-01-14", "--dry-run")
	require.NoError(t, err, out)

	var res engine.PlanOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Committed)
	require.Len(t, res.Slots, 1)
	assert.Equal(t, "M1", res.Slots[0].MachineID)
}

func TestPlanCmdStoredPlan(t *testing.T) {
	_, cfg := writeWorkspace(t)
	out, err := executeCmd(t, "-c", cfg, "plan", "P1")
	require.NoError(t, err, out)

	var res engine.PlanOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Committed)
	assert.Len(t, res.Slots, 2)
}

func TestPlanCmdRequiresTarget(t *testing.T) {
	_, cfg := writeWorkspace(t)
	_, err := executeCmd(t, "-c", cfg, "plan")
	assert.ErrorContains(t, err, "--work-orders")
}

func TestPlanCmdRejectsBadTime(t *testing.T) {
	_, cfg := writeWorkspace(t)
	_, err := executeCmd(t, "-c", cfg, "plan", "--work-orders", "WO-1", "--from", "next tuesday")
	assert.ErrorContains(t, err, "invalid time")
}

func TestPlanCmdRejectsUnknownRule(t *testing.T) {
	_, cfg := writeWorkspace(t)
	_, err := executeCmd(t, "-c", cfg, "plan", "--work-orders", "WO-1", "--rule", "LIFO")
	assert.ErrorContains(t, err, "unknown rule")
}

func TestBucketsCmd(t *testing.T) {
	_, cfg := writeWorkspace(t)
	out, err := executeCmd(t, "-c", cfg, "buckets", "-m", "M1", "--from", "2030-01-07", "--to", "2030-01-09")
	require.NoError(t, err, out)
	assert.Contains(t, out, "MACHINE")
	assert.Contains(t, out, "M1")
	assert.Contains(t, out, "2030-01-08 00:00")
}

func TestBucketsCmdRequiresMachine(t *testing.T) {
	_, cfg := writeWorkspace(t)
	_, err := executeCmd(t, "-c", cfg, "buckets", "--from", "2030-01-07", "--to", "2030-01-09")
	assert.Error(t, err)
}

func TestValidateCmd(t *testing.T) {
	dir, cfg := writeWorkspace(t)

	clean := filepath.Join(dir, "clean.json")
	require.NoError(t, os.WriteFile(clean, []byte(`[
  {"id":"S1","work_order_id":"WO-1","operation_id":"WO-1-10","machine_id":"M1",
   "start":"2030-01-07T08:00:00Z","end":"2030-01-07T09:00:00Z","status":"scheduled"}
]`), 0o644))
	out, err := executeCmd(t, "-c", cfg, "validate", clean)
	require.NoError(t, err, out)
	assert.Contains(t, out, "no conflicts")

	clash := filepath.Join(dir, "clash.json")
	require.NoError(t, os.WriteFile(clash, []byte(`[
  {"id":"S1","work_order_id":"WO-1","operation_id":"WO-1-10","machine_id":"M1",
   "start":"2030-01-07T08:00:00Z","end":"2030-01-07T09:00:00Z","status":"scheduled"},
  {"id":"S2","work_order_id":"WO-2","operation_id":"WO-2-10","machine_id":"M1",
   "start":"2030-01-07T08:30:00Z","end":"2030-01-07T10:00:00Z","status":"scheduled"}
]`), 0o644))
	out, err = executeCmd(t, "-c", cfg, "validate", clash)
	assert.ErrorContains(t, err, "critical conflict")
	assert.Contains(t, out, "double_booking")
}

func TestMissingConfig(t *testing.T) {
	_, err := executeCmd(t, "-c", filepath.Join(t.TempDir(), "nope.yaml"), "plan", "P1")
	assert.ErrorContains(t, err, "load config")
}
