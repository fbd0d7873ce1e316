package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shopsched/core/model"
)

func candidate(id, wo, opID string, start time.Time, minutes int) model.ScheduleSlot {
	return model.ScheduleSlot{
		ID:          id,
		WorkOrderID: wo,
		OperationID: opID,
		MachineID:   "M1",
		Start:       start,
		End:         start.Add(time.Duration(minutes) * time.Minute),
		Status:      model.SlotScheduled,
	}
}

func TestValidateSlotsIsIdempotent(t *testing.T) {
	d := shopData()
	d.WorkOrders = append(d.WorkOrders, order("WO-3", monday.Add(48*time.Hour), op("GRINDING", 60)))
	h := newHarness(t, d)

	req := ValidateRequest{Slots: []model.ScheduleSlot{
		candidate("c1", "WO-3", "WO-3-1", monday, 60),
		candidate("c2", "WO-X", "WO-X-1", monday.Add(2*time.Hour), 60),
	}}
	first, err := h.eng.ValidateSlots(context.Background(), req)
	require.NoError(t, err)
	second, err := h.eng.ValidateSlots(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	kinds := map[model.ConflictKind][]string{}
	for _, c := range first {
		kinds[c.Kind] = c.SlotIDs
	}
	assert.Equal(t, []string{"c1"}, kinds[model.ConflictCapabilityMismatch])
	assert.Equal(t, []string{"c2"}, kinds[model.ConflictMalformedSlot])

	assert.Empty(t, h.stored(t))
	assert.Empty(t, h.audit.entries)
	assert.Len(t, h.sink.results, 2)
}

func TestValidateSlotsWithStored(t *testing.T) {
	h := newHarness(t, shopData())
	_, err := h.eng.PlanSchedule(context.Background(), planRequest("WO-1"))
	require.NoError(t, err)

	c := candidate("c1", "WO-2", "WO-2-1", monday.Add(4*time.Hour), 120)
	alone, err := h.eng.ValidateSlots(context.Background(), ValidateRequest{Slots: []model.ScheduleSlot{c}})
	require.NoError(t, err)
	assert.Empty(t, alone)

	merged, err := h.eng.ValidateSlots(context.Background(), ValidateRequest{Slots: []model.ScheduleSlot{c}, WithStored: true})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, model.ConflictDoubleBooking, merged[0].Kind)
	assert.Equal(t, []string{"c1", "slot-001"}, merged[0].SlotIDs)
}

func TestValidateSlotsWithStoredSeesOtherMachines(t *testing.T) {
	d := floorData()
	d.WorkOrders = append(d.WorkOrders, order("WO-3", monday.Add(72*time.Hour), op("MILLING", 120), op("MILLING", 60)))
	h := newHarness(t, d)
	h.seed(t, slot("T1", "WO-3", "M1", at(8, 0), at(10, 0)))

	c := candidate("c1", "WO-3", "WO-3-2", at(8, 30), 60)
	c.MachineID = "M2"
	got, err := h.eng.ValidateSlots(context.Background(), ValidateRequest{Slots: []model.ScheduleSlot{c}, WithStored: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.ConflictPrecedenceViolation, got[0].Kind)
	assert.Equal(t, []string{"T1", "c1"}, got[0].SlotIDs)
}

func TestValidateSlotsRejectsInvalidPolicy(t *testing.T) {
	h := newHarness(t, shopData())
	_, err := h.eng.ValidateSlots(context.Background(), ValidateRequest{
		Policy: &model.SchedulingPolicy{Rule: model.RuleEDD},
	})
	require.ErrorIs(t, err, model.ErrInvalidPolicy)
}

func TestGetCapacityBuckets(t *testing.T) {
	h := newHarness(t, shopData())
	_, err := h.eng.PlanSchedule(context.Background(), planRequest("WO-1"))
	require.NoError(t, err)

	day := model.DateRange{Start: monday, End: monday.Add(48 * time.Hour)}
	buckets, err := h.eng.GetCapacityBuckets(context.Background(), nil, day, model.GranularityDay)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, "M1", buckets[0].MachineID)
	assert.Equal(t, monday, buckets[0].Start)
	assert.InDelta(t, 480, buckets[0].AvailableMinutes, 1e-9)
	assert.InDelta(t, 300, buckets[0].PlannedMinutes, 1e-9)
	assert.InDelta(t, 0.625, buckets[0].Utilization, 1e-9)
	assert.False(t, buckets[0].IsOverloaded)
	assert.Zero(t, buckets[1].PlannedMinutes)
	assert.True(t, buckets[0].Start.Before(buckets[1].Start))
}

func TestGetCapacityBucketsRejectsBadInput(t *testing.T) {
	h := newHarness(t, shopData())
	day := model.DateRange{Start: monday, End: monday.Add(24 * time.Hour)}

	_, err := h.eng.GetCapacityBuckets(context.Background(), nil, day, model.Granularity("hour"))
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = h.eng.GetCapacityBuckets(context.Background(), nil, model.DateRange{Start: monday, End: monday}, model.GranularityDay)
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = h.eng.GetCapacityBuckets(context.Background(), []string{"M9"}, day, model.GranularityDay)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetPlanMetrics(t *testing.T) {
	h := newHarness(t, shopData())
	out, err := h.eng.PlanSchedule(context.Background(), planRequest("WO-1", "WO-2"))
	require.NoError(t, err)
	_, err = h.eng.SetSlotStatus(context.Background(), out.Slots[0].ID, model.SlotCompleted)
	require.NoError(t, err)

	pm, err := h.eng.GetPlanMetrics(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", pm.PlanID)
	assert.Equal(t, 2, pm.TotalWorkOrders)
	assert.Equal(t, 1, pm.CompletedWorkOrders)
	assert.Equal(t, 2, pm.TotalOperations)
	assert.Equal(t, 1, pm.CompletedOperations)
	assert.InDelta(t, 50, pm.ProgressPercent, 1e-9)
	assert.InDelta(t, 10, pm.EstimatedHours, 1e-9)
	// Three eight hour shifts over the plan range.
	assert.InDelta(t, 24, pm.AvailableHours, 1e-9)

	require.Len(t, pm.Machines, 1)
	m1 := pm.Machines[0]
	assert.InDelta(t, 300, m1.RunningMinutes, 1e-9)
	assert.InDelta(t, 300.0/1440.0, m1.OEE, 1e-9)
	assert.InDelta(t, m1.OEE, pm.FleetOEE, 1e-9)
	assert.Equal(t, monday, pm.ComputedAt)

	_, err = h.eng.GetPlanMetrics(context.Background(), "nope")
	require.ErrorIs(t, err, model.ErrNotFound)
}
