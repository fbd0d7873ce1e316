package model

import "time"

// CapacityBucket aggregates one machine's availability and load over a
// time window.
type CapacityBucket struct {
	MachineID        string      `json:"machine_id"`
	Start            time.Time   `json:"start"`
	End              time.Time   `json:"end"`
	Granularity      Granularity `json:"granularity"`
	ShiftIndex       int         `json:"shift_index"`
	AvailableMinutes float64     `json:"available_minutes"`
	PlannedMinutes   float64     `json:"planned_minutes"`
	Utilization      float64     `json:"utilization"`
	IsOverloaded     bool        `json:"is_overloaded"`
}

// Window returns the bucket interval.
func (b CapacityBucket) Window() TimeWindow {
	return TimeWindow{Start: b.Start, End: b.End}
}

// OverloadedBeyond reports whether utilization exceeds limit.
func (b CapacityBucket) OverloadedBeyond(limit float64) bool {
	return b.Utilization > limit+1e-9
}

// Recompute refreshes utilization and the overload flag.
func (b *CapacityBucket) Recompute() {
	if b.AvailableMinutes <= 0 {
		b.Utilization = 0
		b.IsOverloaded = b.PlannedMinutes > 0
		return
	}
	b.Utilization = b.PlannedMinutes / b.AvailableMinutes
	b.IsOverloaded = b.OverloadedBeyond(1)
}
