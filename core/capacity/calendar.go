package capacity

import (
	"sort"
	"time"

	"github.com/kilianp07/shopsched/core/model"
)

const day = 24 * time.Hour

// Availability expands the machine calendar over r and removes downtime.
// The result is sorted, merged and clipped to r. Machines under maintenance
// have no availability.
func Availability(m model.Machine, r model.TimeWindow) []model.TimeWindow {
	if r.Minutes() <= 0 || m.Status == model.MachineMaintenance {
		return nil
	}
	var windows []model.TimeWindow
	if len(m.Shifts) == 0 {
		windows = []model.TimeWindow{r}
	} else {
		windows = expandShifts(m.Shifts, r)
	}
	windows = Merge(windows)
	windows = Subtract(windows, m.Downtime)
	out := windows[:0]
	for _, w := range windows {
		if in, ok := w.Intersect(r); ok {
			out = append(out, in)
		}
	}
	return out
}

// AvailableMinutes sums availability of m over r.
func AvailableMinutes(m model.Machine, r model.TimeWindow) float64 {
	total := 0.0
	for _, w := range Availability(m, r) {
		total += w.Minutes()
	}
	return total
}

func expandShifts(shifts []model.ShiftPattern, r model.TimeWindow) []model.TimeWindow {
	// Start one day early so overnight shifts reaching into r are kept.
	first := startOfDay(r.Start).Add(-day)
	var out []model.TimeWindow
	for d := first; d.Before(r.End); d = d.Add(day) {
		for _, p := range shifts {
			if !onWeekday(p, d.Weekday()) {
				continue
			}
			off, err := p.Offset()
			if err != nil || p.Minutes <= 0 {
				continue
			}
			start := d.Add(off)
			out = append(out, model.TimeWindow{Start: start, End: start.Add(time.Duration(p.Minutes) * time.Minute)})
		}
	}
	return out
}

func onWeekday(p model.ShiftPattern, wd time.Weekday) bool {
	if len(p.Weekdays) == 0 {
		return true
	}
	for _, d := range p.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// Merge sorts windows and joins overlapping or touching ones.
func Merge(in []model.TimeWindow) []model.TimeWindow {
	var ws []model.TimeWindow
	for _, w := range in {
		if w.Minutes() > 0 {
			ws = append(ws, w)
		}
	}
	sort.Slice(ws, func(i, j int) bool {
		if !ws[i].Start.Equal(ws[j].Start) {
			return ws[i].Start.Before(ws[j].Start)
		}
		return ws[i].End.Before(ws[j].End)
	})
	var out []model.TimeWindow
	for _, w := range ws {
		if n := len(out); n > 0 && !w.Start.After(out[n-1].End) {
			if w.End.After(out[n-1].End) {
				out[n-1].End = w.End
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// Subtract removes every cut window from the given windows.
func Subtract(windows, cuts []model.TimeWindow) []model.TimeWindow {
	out := append([]model.TimeWindow(nil), windows...)
	for _, c := range cuts {
		if c.Minutes() <= 0 {
			continue
		}
		var next []model.TimeWindow
		for _, w := range out {
			if !w.Overlaps(c) {
				next = append(next, w)
				continue
			}
			if w.Start.Before(c.Start) {
				next = append(next, model.TimeWindow{Start: w.Start, End: c.Start})
			}
			if c.End.Before(w.End) {
				next = append(next, model.TimeWindow{Start: c.End, End: w.End})
			}
		}
		out = next
	}
	return out
}
