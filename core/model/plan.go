package model

import "time"

// DateRange is the [Start, End) range a plan or query covers.
type DateRange = TimeWindow

// ProductionPlan groups work orders scheduled together under one policy.
type ProductionPlan struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Type         PlanType         `json:"type" yaml:"type"`
	Range        DateRange        `json:"range" yaml:"range"`
	Status       PlanStatus       `json:"status" yaml:"status"`
	WorkOrderIDs []string         `json:"work_order_ids" yaml:"work_order_ids"`
	MachineIDs   []string         `json:"machine_ids,omitempty" yaml:"machine_ids,omitempty"`
	Policy       SchedulingPolicy `json:"policy" yaml:"policy"`
}

// ProductionReport is a production count reported for a machine window.
type ProductionReport struct {
	MachineID         string     `json:"machine_id" yaml:"machine_id"`
	Window            TimeWindow `json:"window" yaml:"window"`
	RunningMinutes    float64    `json:"running_minutes" yaml:"running_minutes"`
	IdealCycleMinutes float64    `json:"ideal_cycle_minutes" yaml:"ideal_cycle_minutes"`
	UnitsProduced     int        `json:"units_produced" yaml:"units_produced"`
	GoodUnits         int        `json:"good_units" yaml:"good_units"`
}

// MachineOEE is the equipment-effectiveness breakdown of one machine.
type MachineOEE struct {
	MachineID        string  `json:"machine_id"`
	AvailableMinutes float64 `json:"available_minutes"`
	RunningMinutes   float64 `json:"running_minutes"`
	Availability     float64 `json:"availability"`
	Performance      float64 `json:"performance"`
	Quality          float64 `json:"quality"`
	OEE              float64 `json:"oee"`
	UnitsProduced    int     `json:"units_produced"`
	GoodUnits        int     `json:"good_units"`
}

// PlanMetrics summarises progress and effectiveness of a plan.
type PlanMetrics struct {
	PlanID              string       `json:"plan_id"`
	TotalWorkOrders     int          `json:"total_work_orders"`
	CompletedWorkOrders int          `json:"completed_work_orders"`
	TotalOperations     int          `json:"total_operations"`
	CompletedOperations int          `json:"completed_operations"`
	ProgressPercent     float64      `json:"progress_percent"`
	EstimatedHours      float64      `json:"estimated_hours"`
	AvailableHours      float64      `json:"available_hours"`
	Efficiency          float64      `json:"efficiency"`
	Machines            []MachineOEE `json:"machines"`
	FleetOEE            float64      `json:"fleet_oee"`
	ComputedAt          time.Time    `json:"computed_at"`
}
