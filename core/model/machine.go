package model

import (
	"fmt"
	"time"
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Minutes returns the length of the window in minutes; zero for empty or
// inverted windows.
func (w TimeWindow) Minutes() float64 {
	if !w.End.After(w.Start) {
		return 0
	}
	return w.End.Sub(w.Start).Minutes()
}

// Overlaps reports whether the two windows share any instant.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Intersect returns the common part of both windows.
func (w TimeWindow) Intersect(o TimeWindow) (TimeWindow, bool) {
	start := w.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := w.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return TimeWindow{}, false
	}
	return TimeWindow{Start: start, End: end}, true
}

// OverlapMinutes returns the number of minutes shared by both windows.
func (w TimeWindow) OverlapMinutes(o TimeWindow) float64 {
	in, ok := w.Intersect(o)
	if !ok {
		return 0
	}
	return in.Minutes()
}

// ShiftPattern describes a recurring working window, e.g. 06:00 for 480
// minutes on weekdays. An empty Weekdays list means every day.
type ShiftPattern struct {
	Start    string         `json:"start" yaml:"start"`
	Minutes  int            `json:"minutes" yaml:"minutes"`
	Weekdays []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
}

// Offset returns the shift start as an offset from midnight.
func (p ShiftPattern) Offset() (time.Duration, error) {
	t, err := time.Parse("15:04", p.Start)
	if err != nil {
		return 0, fmt.Errorf("shift start %q: %w", p.Start, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Machine is a work center able to run operations.
type Machine struct {
	ID     string        `json:"id" yaml:"id"`
	Name   string        `json:"name" yaml:"name"`
	Type   string        `json:"type" yaml:"type"`
	Status MachineStatus `json:"status" yaml:"status"`
	// Shifts is the working calendar. A machine without shifts is
	// available around the clock.
	Shifts []ShiftPattern `json:"shifts,omitempty" yaml:"shifts,omitempty"`
	// Downtime lists declared maintenance or downtime windows.
	Downtime []TimeWindow `json:"downtime,omitempty" yaml:"downtime,omitempty"`
}

// Validate checks identifiers and shift patterns.
func (m Machine) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("machine id is required")
	}
	for i, p := range m.Shifts {
		if _, err := p.Offset(); err != nil {
			return fmt.Errorf("machine %s shift %d: %w", m.ID, i, err)
		}
		if p.Minutes <= 0 || p.Minutes > 24*60 {
			return fmt.Errorf("machine %s shift %d: minutes must be in (0, 1440]", m.ID, i)
		}
	}
	for i, d := range m.Downtime {
		if !d.End.After(d.Start) {
			return fmt.Errorf("machine %s downtime %d: end must be after start", m.ID, i)
		}
	}
	return nil
}

// Usable reports whether the allocator may consider the machine.
func (m Machine) Usable() bool {
	return m.Status != MachineOffline
}

// MachineCapability certifies that a machine can perform an operation type.
type MachineCapability struct {
	MachineID        string  `json:"machine_id" yaml:"machine_id"`
	OperationType    string  `json:"operation_type" yaml:"operation_type"`
	SkillLevel       int     `json:"skill_level" yaml:"skill_level"`
	ThroughputRating float64 `json:"throughput_rating" yaml:"throughput_rating"`
	QualityRating    float64 `json:"quality_rating" yaml:"quality_rating"`
	CostPerHour      float64 `json:"cost_per_hour" yaml:"cost_per_hour"`
	IsActive         bool    `json:"is_active" yaml:"is_active"`
}
