// Package aggregate derives plan progress, efficiency and OEE from the slot
// set, machine calendars and production reports.
package aggregate

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/shopsched/core/capacity"
	"github.com/kilianp07/shopsched/core/model"
)

// Input groups the state needed to compute plan metrics.
type Input struct {
	Plan     model.ProductionPlan
	Slots    []model.ScheduleSlot
	Orders   []model.WorkOrder
	Machines []model.Machine
	Reports  []model.ProductionReport
	Now      time.Time
}

// Aggregate computes the metrics of a plan. Machines outside the plan
// scope are ignored when the plan lists machine ids.
func Aggregate(in Input) model.PlanMetrics {
	pm := model.PlanMetrics{
		PlanID:          in.Plan.ID,
		TotalWorkOrders: len(in.Orders),
		ComputedAt:      in.Now,
	}

	completed := make(map[model.OpRef]bool)
	for _, s := range in.Slots {
		if s.Status == model.SlotCompleted {
			completed[s.Ref()] = true
		}
	}
	var estimated []float64
	for _, wo := range in.Orders {
		done := len(wo.Operations) > 0
		for _, op := range wo.Operations {
			pm.TotalOperations++
			estimated = append(estimated, float64(op.DurationMinutes))
			if completed[wo.Ref(op)] {
				pm.CompletedOperations++
			} else {
				done = false
			}
		}
		if done {
			pm.CompletedWorkOrders++
		}
	}
	if pm.TotalOperations > 0 {
		pm.ProgressPercent = float64(pm.CompletedOperations) / float64(pm.TotalOperations) * 100
	}
	pm.EstimatedHours = sum(estimated) / 60

	machines := scope(in.Machines, in.Plan.MachineIDs)
	available := make([]float64, 0, len(machines))
	oees := make([]float64, 0, len(machines))
	for _, m := range machines {
		oee := machineOEE(m, in)
		pm.Machines = append(pm.Machines, oee)
		available = append(available, oee.AvailableMinutes)
		oees = append(oees, oee.OEE)
	}
	pm.AvailableHours = sum(available) / 60
	if pm.AvailableHours > 0 {
		pm.Efficiency = math.Min(100, pm.EstimatedHours/pm.AvailableHours*100)
	}
	if sum(available) > 0 {
		pm.FleetOEE = stat.Mean(oees, available)
	}
	return pm
}

func sum(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Sum(xs)
}

func scope(machines []model.Machine, ids []string) []model.Machine {
	out := make([]model.Machine, 0, len(machines))
	if len(ids) == 0 {
		out = append(out, machines...)
	} else {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		for _, m := range machines {
			if want[m.ID] {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// machineOEE computes availability x performance x quality for one machine
// over the plan range. Without production reports the running time comes
// from completed slots and performance and quality count as nominal.
func machineOEE(m model.Machine, in Input) model.MachineOEE {
	res := model.MachineOEE{
		MachineID:        m.ID,
		AvailableMinutes: capacity.AvailableMinutes(m, in.Plan.Range),
	}
	var running, idealWork []float64
	units, good := 0, 0
	for _, r := range in.Reports {
		if r.MachineID != m.ID || !r.Window.Overlaps(in.Plan.Range) {
			continue
		}
		running = append(running, r.RunningMinutes)
		idealWork = append(idealWork, r.IdealCycleMinutes*float64(r.UnitsProduced))
		units += r.UnitsProduced
		good += r.GoodUnits
	}

	if len(running) == 0 {
		for _, s := range in.Slots {
			if s.MachineID == m.ID && s.Status == model.SlotCompleted {
				running = append(running, s.Window().OverlapMinutes(in.Plan.Range))
			}
		}
		res.RunningMinutes = sum(running)
		if res.RunningMinutes > 0 {
			res.Performance, res.Quality = 1, 1
		}
	} else {
		res.RunningMinutes = sum(running)
		res.UnitsProduced, res.GoodUnits = units, good
		if res.RunningMinutes > 0 {
			res.Performance = ratio(sum(idealWork), res.RunningMinutes)
		}
		if units > 0 {
			res.Quality = ratio(float64(good), float64(units))
		}
	}
	if res.AvailableMinutes > 0 {
		res.Availability = ratio(res.RunningMinutes, res.AvailableMinutes)
	}
	res.OEE = res.Availability * res.Performance * res.Quality
	return res
}

// ratio divides and caps the result to [0, 1].
func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, num/den))
}
