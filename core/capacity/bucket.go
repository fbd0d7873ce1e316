package capacity

import (
	"fmt"
	"time"

	"github.com/jinzhu/now"

	"github.com/kilianp07/shopsched/core/model"
)

// ShiftLength is the width of a shift bucket. Shift buckets start at 00:00.
const ShiftLength = 8 * time.Hour

var calendar = &now.Config{WeekStartDay: time.Monday, TimeLocation: time.UTC}

func startOfDay(t time.Time) time.Time {
	return calendar.With(t.UTC()).BeginningOfDay()
}

// Boundary is one bucket window with its shift index (0 for day and week).
type Boundary struct {
	Window     model.TimeWindow
	ShiftIndex int
}

// Boundaries splits r into bucket windows of granularity g. The first and
// last windows are clipped to r.
func Boundaries(r model.TimeWindow, g model.Granularity) ([]Boundary, error) {
	if !g.IsValid() {
		return nil, fmt.Errorf("unknown granularity %q", g)
	}
	if r.Minutes() <= 0 {
		return nil, nil
	}
	var out []Boundary
	for start := bucketStart(r.Start.UTC(), g); start.Before(r.End); {
		end := bucketEnd(start, g)
		idx := 0
		if g == model.GranularityShift {
			idx = int(start.Sub(startOfDay(start)) / ShiftLength)
		}
		if w, ok := (model.TimeWindow{Start: start, End: end}).Intersect(r); ok {
			out = append(out, Boundary{Window: w, ShiftIndex: idx})
		}
		start = end
	}
	return out, nil
}

// Cover widens r to whole buckets of granularity g.
func Cover(r model.TimeWindow, g model.Granularity) model.TimeWindow {
	start := bucketStart(r.Start.UTC(), g)
	end := bucketStart(r.End.UTC(), g)
	if end.Before(r.End) {
		end = bucketEnd(end, g)
	}
	return model.TimeWindow{Start: start, End: end}
}

func bucketStart(t time.Time, g model.Granularity) time.Time {
	n := calendar.With(t)
	switch g {
	case model.GranularityWeek:
		return n.BeginningOfWeek()
	case model.GranularityShift:
		d := n.BeginningOfDay()
		return d.Add(t.Sub(d) / ShiftLength * ShiftLength)
	default:
		return n.BeginningOfDay()
	}
}

func bucketEnd(start time.Time, g model.Granularity) time.Time {
	switch g {
	case model.GranularityWeek:
		return start.AddDate(0, 0, 7)
	case model.GranularityShift:
		return start.Add(ShiftLength)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Buckets computes the capacity buckets of machine m over r. Only slots on
// m are counted; their minutes are prorated across the buckets they span.
func Buckets(m model.Machine, slots []model.ScheduleSlot, r model.TimeWindow, g model.Granularity) ([]model.CapacityBucket, error) {
	bounds, err := Boundaries(r, g)
	if err != nil {
		return nil, err
	}
	avail := Availability(m, r)
	out := make([]model.CapacityBucket, 0, len(bounds))
	for _, b := range bounds {
		bucket := model.CapacityBucket{
			MachineID:   m.ID,
			Start:       b.Window.Start,
			End:         b.Window.End,
			Granularity: g,
			ShiftIndex:  b.ShiftIndex,
		}
		for _, w := range avail {
			bucket.AvailableMinutes += w.OverlapMinutes(b.Window)
		}
		for _, s := range slots {
			if s.MachineID != m.ID {
				continue
			}
			bucket.PlannedMinutes += s.Window().OverlapMinutes(b.Window)
		}
		bucket.Recompute()
		out = append(out, bucket)
	}
	return out, nil
}
