package capacity

import (
	"sort"
	"time"

	"github.com/kilianp07/shopsched/core/model"
)

// Timeline tracks availability, placed slots and bucket load of one machine
// over a planning horizon. It is not safe for concurrent use; callers hold
// the machine lock while mutating it.
type Timeline struct {
	machine model.Machine
	horizon model.TimeWindow
	runs    []model.TimeWindow
	slots   []model.ScheduleSlot
	buckets []model.CapacityBucket
}

// NewTimeline builds a timeline for m over horizon with buckets of
// granularity g, preloaded with the existing slots on m.
func NewTimeline(m model.Machine, horizon model.TimeWindow, g model.Granularity, existing []model.ScheduleSlot) (*Timeline, error) {
	bounds, err := Boundaries(horizon, g)
	if err != nil {
		return nil, err
	}
	tl := &Timeline{
		machine: m,
		horizon: horizon,
		runs:    Availability(m, horizon),
	}
	for _, b := range bounds {
		bucket := model.CapacityBucket{
			MachineID:   m.ID,
			Start:       b.Window.Start,
			End:         b.Window.End,
			Granularity: g,
			ShiftIndex:  b.ShiftIndex,
		}
		for _, w := range tl.runs {
			bucket.AvailableMinutes += w.OverlapMinutes(b.Window)
		}
		tl.buckets = append(tl.buckets, bucket)
	}
	for _, s := range existing {
		if s.MachineID == m.ID {
			tl.Place(s)
		}
	}
	return tl, nil
}

// Machine returns the machine the timeline belongs to.
func (t *Timeline) Machine() model.Machine { return t.machine }

// Runs returns the merged availability windows.
func (t *Timeline) Runs() []model.TimeWindow {
	return append([]model.TimeWindow(nil), t.runs...)
}

// Slots returns the placed slots ordered by start.
func (t *Timeline) Slots() []model.ScheduleSlot {
	return append([]model.ScheduleSlot(nil), t.slots...)
}

// Buckets returns a copy of the current bucket state.
func (t *Timeline) Buckets() []model.CapacityBucket {
	out := make([]model.CapacityBucket, len(t.buckets))
	copy(out, t.buckets)
	for i := range out {
		out[i].Recompute()
	}
	return out
}

// Utilization is the planned over available ratio across the horizon.
func (t *Timeline) Utilization() float64 {
	var planned, avail float64
	for _, b := range t.buckets {
		planned += b.PlannedMinutes
		avail += b.AvailableMinutes
	}
	if avail <= 0 {
		return 0
	}
	return planned / avail
}

// Overloaded reports whether any bucket is above 100%.
func (t *Timeline) Overloaded() bool {
	for _, b := range t.Buckets() {
		if b.IsOverloaded {
			return true
		}
	}
	return false
}

// Place records slot on the timeline and updates bucket load.
func (t *Timeline) Place(slot model.ScheduleSlot) {
	i := sort.Search(len(t.slots), func(i int) bool { return t.slots[i].Start.After(slot.Start) })
	t.slots = append(t.slots, model.ScheduleSlot{})
	copy(t.slots[i+1:], t.slots[i:])
	t.slots[i] = slot
	t.addLoad(slot.Window(), 1)
}

// Remove drops the slot with the given id. It reports whether it was found.
func (t *Timeline) Remove(slotID string) bool {
	for i, s := range t.slots {
		if s.ID != slotID {
			continue
		}
		t.slots = append(t.slots[:i], t.slots[i+1:]...)
		t.addLoad(s.Window(), -1)
		return true
	}
	return false
}

func (t *Timeline) addLoad(w model.TimeWindow, sign float64) {
	for i := range t.buckets {
		t.buckets[i].PlannedMinutes += sign * w.OverlapMinutes(t.buckets[i].Window())
	}
}

// Fits reports whether w lies inside one availability run, keeps every
// touched bucket at or under limit and, unless allowOverlap is set, does not
// overlap a placed slot.
func (t *Timeline) Fits(w model.TimeWindow, limit float64, allowOverlap bool) bool {
	if w.Minutes() <= 0 || !t.withinRun(w) {
		return false
	}
	if !allowOverlap {
		for _, s := range t.slots {
			if s.Window().Overlaps(w) {
				return false
			}
		}
	}
	for _, b := range t.buckets {
		extra := w.OverlapMinutes(b.Window())
		if extra == 0 {
			continue
		}
		if b.AvailableMinutes <= 0 {
			return false
		}
		if (b.PlannedMinutes+extra)/b.AvailableMinutes > limit+1e-9 {
			return false
		}
	}
	return true
}

func (t *Timeline) withinRun(w model.TimeWindow) bool {
	for _, r := range t.runs {
		if !w.Start.Before(r.Start) && !w.End.After(r.End) {
			return true
		}
	}
	return false
}

// EarliestWindow finds the earliest window of length d starting no earlier
// than notBefore that Fits.
func (t *Timeline) EarliestWindow(notBefore time.Time, d time.Duration, limit float64, allowOverlap bool) (model.TimeWindow, bool) {
	if d <= 0 {
		return model.TimeWindow{}, false
	}
	if notBefore.Before(t.horizon.Start) {
		notBefore = t.horizon.Start
	}
	for _, start := range t.candidateStarts(notBefore, d, limit) {
		w := model.TimeWindow{Start: start, End: start.Add(d)}
		if t.Fits(w, limit, allowOverlap) {
			return w, true
		}
	}
	return model.TimeWindow{}, false
}

// candidateStarts lists the instants where the earliest feasible window can
// begin: run starts, slot ends, bucket starts and the latest start that
// still fits the remaining room of a bucket.
func (t *Timeline) candidateStarts(notBefore time.Time, d time.Duration, limit float64) []time.Time {
	var points []time.Time
	for _, r := range t.runs {
		points = append(points, r.Start)
	}
	for _, s := range t.slots {
		points = append(points, s.End)
	}
	for _, b := range t.buckets {
		points = append(points, b.Start)
		room := b.AvailableMinutes*limit - b.PlannedMinutes
		if room > 0 {
			p := b.End.Add(-time.Duration(room * float64(time.Minute)))
			if tr := p.Truncate(time.Minute); !tr.Equal(p) {
				p = tr.Add(time.Minute)
			}
			points = append(points, p)
		}
	}
	points = append(points, notBefore)

	var out []time.Time
	for _, p := range points {
		if p.Before(notBefore) {
			continue
		}
		if p.Add(d).After(t.horizon.End) {
			continue
		}
		if !t.inAnyRun(p) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return dedupe(out)
}

func (t *Timeline) inAnyRun(p time.Time) bool {
	for _, r := range t.runs {
		if !p.Before(r.Start) && p.Before(r.End) {
			return true
		}
	}
	return false
}

// SkippedBuckets returns the buckets between from and to that still had
// room under limit. The allocator uses them to report deferrals.
func (t *Timeline) SkippedBuckets(from, to time.Time, limit float64) []model.CapacityBucket {
	var out []model.CapacityBucket
	for _, b := range t.Buckets() {
		if b.AvailableMinutes <= 0 || !b.End.After(from) || b.End.After(to) {
			continue
		}
		if b.AvailableMinutes*limit-b.PlannedMinutes > 1e-9 {
			out = append(out, b)
		}
	}
	return out
}

func dedupe(ts []time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if n := len(out); n > 0 && t.Equal(out[n-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}
