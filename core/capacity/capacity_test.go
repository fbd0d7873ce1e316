package capacity

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shopsched/core/model"
)

// 2025-03-03 is a Monday.
var monday = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func window(from, to time.Duration) model.TimeWindow {
	return model.TimeWindow{Start: monday.Add(from), End: monday.Add(to)}
}

func TestAvailabilityExpandsShifts(t *testing.T) {
	m := model.Machine{ID: "M1", Shifts: []model.ShiftPattern{{Start: "06:00", Minutes: 480}}}
	got := Availability(m, window(0, 48*time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, monday.Add(6*time.Hour), got[0].Start)
	assert.Equal(t, monday.Add(14*time.Hour), got[0].End)
	assert.Equal(t, 960.0, AvailableMinutes(m, window(0, 48*time.Hour)))
}

func TestAvailabilityKeepsOvernightShift(t *testing.T) {
	m := model.Machine{ID: "M1", Shifts: []model.ShiftPattern{{Start: "22:00", Minutes: 480}}}
	got := Availability(m, window(0, 24*time.Hour))
	require.Len(t, got, 2)
	// Sunday's night shift runs into Monday until 06:00.
	assert.Equal(t, monday, got[0].Start)
	assert.Equal(t, monday.Add(6*time.Hour), got[0].End)
	assert.Equal(t, monday.Add(22*time.Hour), got[1].Start)
}

func TestAvailabilityHonoursWeekdays(t *testing.T) {
	m := model.Machine{ID: "M1", Shifts: []model.ShiftPattern{{
		Start: "08:00", Minutes: 60, Weekdays: []time.Weekday{time.Monday, time.Wednesday},
	}}}
	assert.Equal(t, 120.0, AvailableMinutes(m, window(0, 7*24*time.Hour)))
}

func TestAvailabilitySubtractsDowntime(t *testing.T) {
	m := model.Machine{
		ID:       "M1",
		Shifts:   []model.ShiftPattern{{Start: "00:00", Minutes: 480}},
		Downtime: []model.TimeWindow{window(2*time.Hour, 3*time.Hour)},
	}
	got := Availability(m, window(0, 24*time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, 420.0, got[0].Minutes()+got[1].Minutes())
}

func TestMaintenanceMachineHasNoCapacity(t *testing.T) {
	m := model.Machine{ID: "M1", Status: model.MachineMaintenance}
	assert.Empty(t, Availability(m, window(0, 24*time.Hour)))
	buckets, err := Buckets(m, nil, window(0, 24*time.Hour), model.GranularityDay)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Zero(t, buckets[0].AvailableMinutes)
	assert.Zero(t, buckets[0].Utilization)
}

func TestBoundariesShiftAndWeek(t *testing.T) {
	shifts, err := Boundaries(window(4*time.Hour, 20*time.Hour), model.GranularityShift)
	require.NoError(t, err)
	require.Len(t, shifts, 3)
	assert.Equal(t, 0, shifts[0].ShiftIndex)
	assert.Equal(t, monday.Add(4*time.Hour), shifts[0].Window.Start, "first bucket is clipped")
	assert.Equal(t, 2, shifts[2].ShiftIndex)

	wednesday := monday.Add(2 * 24 * time.Hour)
	weeks, err := Boundaries(model.TimeWindow{Start: wednesday, End: wednesday.Add(10 * 24 * time.Hour)}, model.GranularityWeek)
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, monday.Add(7*24*time.Hour), weeks[1].Window.Start, "weeks start on Monday")

	_, err = Boundaries(window(0, time.Hour), "fortnight")
	assert.Error(t, err)
}

func TestBucketsProrateSlots(t *testing.T) {
	m := model.Machine{ID: "M1"}
	slots := []model.ScheduleSlot{
		{ID: "s1", MachineID: "M1", Start: monday.Add(7 * time.Hour), End: monday.Add(9 * time.Hour)},
		{ID: "s2", MachineID: "M2", Start: monday, End: monday.Add(time.Hour)},
	}
	buckets, err := Buckets(m, slots, window(0, 24*time.Hour), model.GranularityShift)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, 60.0, buckets[0].PlannedMinutes)
	assert.Equal(t, 60.0, buckets[1].PlannedMinutes)
	assert.Equal(t, 0.0, buckets[2].PlannedMinutes)
	assert.InDelta(t, 60.0/480.0, buckets[0].Utilization, 1e-9)
}

func TestBucketConservation(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	m := model.Machine{ID: "M1", Shifts: []model.ShiftPattern{{Start: "06:00", Minutes: 600}}}
	span := window(0, 14*24*time.Hour)
	for trial := 0; trial < 25; trial++ {
		var slots []model.ScheduleSlot
		total := 0.0
		for i := 0; i < 30; i++ {
			start := monday.Add(time.Duration(r.Intn(16*24*60)-24*60) * time.Minute)
			s := model.ScheduleSlot{MachineID: "M1", Start: start, End: start.Add(time.Duration(10+r.Intn(900)) * time.Minute)}
			slots = append(slots, s)
			total += s.Window().OverlapMinutes(span)
		}
		for _, g := range []model.Granularity{model.GranularityShift, model.GranularityDay, model.GranularityWeek} {
			buckets, err := Buckets(m, slots, span, g)
			require.NoError(t, err)
			sum := 0.0
			for _, b := range buckets {
				sum += b.PlannedMinutes
			}
			if math.Abs(sum-total) > 1e-6 {
				t.Fatalf("trial %d %s: planned %.3f, slots %.3f", trial, g, sum, total)
			}
		}
	}
}

func TestTimelineEarliestWindow(t *testing.T) {
	m := model.Machine{ID: "M1", Shifts: []model.ShiftPattern{{Start: "00:00", Minutes: 480}}}
	tl, err := NewTimeline(m, window(0, 72*time.Hour), model.GranularityDay, nil)
	require.NoError(t, err)

	w, ok := tl.EarliestWindow(monday, 300*time.Minute, 1, false)
	require.True(t, ok)
	assert.Equal(t, monday, w.Start)
	tl.Place(model.ScheduleSlot{ID: "a", MachineID: "M1", Start: w.Start, End: w.End})

	w, ok = tl.EarliestWindow(monday, 300*time.Minute, 1, false)
	require.True(t, ok)
	assert.Equal(t, monday.Add(24*time.Hour), w.Start, "day one has only 180 minutes left")

	skipped := tl.SkippedBuckets(monday, w.Start, 1)
	require.Len(t, skipped, 1)
	assert.Equal(t, monday, skipped[0].Start)

	w, ok = tl.EarliestWindow(monday, 180*time.Minute, 1, false)
	require.True(t, ok)
	assert.Equal(t, monday.Add(300*time.Minute), w.Start)
}

func TestTimelineOverloadPhase(t *testing.T) {
	m := model.Machine{ID: "M1", Shifts: []model.ShiftPattern{{Start: "00:00", Minutes: 480}}}
	tl, err := NewTimeline(m, window(0, 24*time.Hour), model.GranularityDay, []model.ScheduleSlot{
		{ID: "a", MachineID: "M1", Start: monday, End: monday.Add(300 * time.Minute)},
	})
	require.NoError(t, err)
	_, ok := tl.EarliestWindow(monday, 240*time.Minute, 1, false)
	assert.False(t, ok)
	// 540/480 = 1.125 fits a 20% tolerance once overlap is allowed.
	w, ok := tl.EarliestWindow(monday, 240*time.Minute, 1.2, true)
	require.True(t, ok)
	assert.Equal(t, monday, w.Start)
	assert.True(t, tl.Fits(w, 1.2, true))
	assert.False(t, tl.Fits(w, 1.2, false))
}

func TestTimelineRemoveRestoresLoad(t *testing.T) {
	m := model.Machine{ID: "M1"}
	tl, err := NewTimeline(m, window(0, 24*time.Hour), model.GranularityDay, nil)
	require.NoError(t, err)
	tl.Place(model.ScheduleSlot{ID: "a", MachineID: "M1", Start: monday, End: monday.Add(time.Hour)})
	assert.InDelta(t, 60.0/1440.0, tl.Utilization(), 1e-9)
	assert.True(t, tl.Remove("a"))
	assert.False(t, tl.Remove("a"))
	assert.Zero(t, tl.Utilization())
	assert.Empty(t, tl.Slots())
}

func TestSubtractSplitsWindows(t *testing.T) {
	got := Subtract([]model.TimeWindow{window(0, 10*time.Hour)}, []model.TimeWindow{
		window(2*time.Hour, 3*time.Hour), window(5*time.Hour, 6*time.Hour),
	})
	require.Len(t, got, 3)
	assert.Equal(t, window(6*time.Hour, 10*time.Hour), got[2])
}

func TestCoverWidensToWholeBuckets(t *testing.T) {
	got := Cover(window(5*time.Hour, 30*time.Hour), model.GranularityDay)
	assert.Equal(t, window(0, 48*time.Hour), got)
	got = Cover(window(0, 24*time.Hour), model.GranularityDay)
	assert.Equal(t, window(0, 24*time.Hour), got)
}
