package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shopsched/core/model"
)

func TestDeriveStatus(t *testing.T) {
	wo := order("WO-1", monday, op("MILLING", 60), op("DRILLING", 30))
	wo.Status = model.WorkOrderPending
	held := func(statuses ...model.SlotStatus) []model.ScheduleSlot {
		out := make([]model.ScheduleSlot, len(statuses))
		for i, st := range statuses {
			out[i] = model.ScheduleSlot{WorkOrderID: "WO-1", OperationID: wo.Operations[i].ID, Status: st}
		}
		return out
	}

	cases := []struct {
		name  string
		slots []model.ScheduleSlot
		want  model.WorkOrderStatus
	}{
		{"no slots", nil, model.WorkOrderPending},
		{"partially held", held(model.SlotScheduled), model.WorkOrderPending},
		{"fully held", held(model.SlotScheduled, model.SlotScheduled), model.WorkOrderScheduled},
		{"one started", held(model.SlotCompleted, model.SlotScheduled), model.WorkOrderInProgress},
		{"delayed wins over progress", held(model.SlotInProgress, model.SlotDelayed), model.WorkOrderDelayed},
		{"all completed", held(model.SlotCompleted, model.SlotCompleted), model.WorkOrderCompleted},
		{"other orders ignored", []model.ScheduleSlot{{WorkOrderID: "WO-2", OperationID: "WO-1-1", Status: model.SlotCompleted}}, model.WorkOrderPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(wo, tc.slots))
		})
	}

	empty := model.WorkOrder{ID: "WO-0", Status: model.WorkOrderDelayed}
	assert.Equal(t, model.WorkOrderDelayed, DeriveStatus(empty, nil))
}

func TestMachineLocksAllOrNone(t *testing.T) {
	l := NewMachineLocks()
	release, err := l.TryAcquire([]string{"M2", "M1", "M1"})
	require.NoError(t, err)
	assert.True(t, l.Held("M1"))
	assert.True(t, l.Held("M2"))

	_, err = l.TryAcquire([]string{"M3", "M2"})
	require.ErrorIs(t, err, model.ErrMachineBusy)
	assert.False(t, l.Held("M3"), "a refused acquisition must not hold any machine")

	release()
	release()
	assert.False(t, l.Held("M1"))

	again, err := l.TryAcquire([]string{"M1", "M3"})
	require.NoError(t, err)
	other, err := l.TryAcquire([]string{"M2"})
	require.NoError(t, err)
	release()
	assert.True(t, l.Held("M1"), "a stale release must not free locks taken later")
	again()
	other()
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, 168, c.DefaultPolicy.HorizonHours)

	bad := c
	bad.BulkMode = "sloppy"
	assert.Error(t, bad.Validate())

	bad = c
	bad.Granularity = "hour"
	assert.Error(t, bad.Validate())

	bad = c
	bad.MaxRetries = -1
	assert.Error(t, bad.Validate())

	bad = c
	bad.DefaultPolicy.HorizonHours = 1
	require.ErrorIs(t, bad.Validate(), model.ErrInvalidPolicy)
}
