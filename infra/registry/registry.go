// Package registry provides a file-backed registry of work orders, machines,
// capabilities, plans and production reports. It stands in for the ERP and
// maintenance systems the engine reads from.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/store"
)

// Data is the on-disk layout of a registry file.
type Data struct {
	WorkOrders   []model.WorkOrder         `json:"work_orders" yaml:"work_orders"`
	Machines     []model.Machine           `json:"machines" yaml:"machines"`
	Capabilities []model.MachineCapability `json:"capabilities" yaml:"capabilities"`
	Plans        []model.ProductionPlan    `json:"plans" yaml:"plans"`
	Reports      []model.ProductionReport  `json:"reports" yaml:"reports"`
}

// Registry serves registry data from memory.
type Registry struct {
	mu           sync.RWMutex
	orders       map[string]model.WorkOrder
	machines     map[string]model.Machine
	capabilities []model.MachineCapability
	plans        map[string]model.ProductionPlan
	reports      []model.ProductionReport
}

var (
	_ store.WorkOrderReader       = (*Registry)(nil)
	_ store.WorkOrderStatusWriter = (*Registry)(nil)
	_ store.MachineReader         = (*Registry)(nil)
	_ store.PlanReader            = (*Registry)(nil)
	_ store.ReportReader          = (*Registry)(nil)
	_ store.ReportWriter          = (*Registry)(nil)
)

// Load reads a registry from a JSON or YAML file.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Decode(f, ext)
}

// Decode reads registry data from r in the given format (yaml or json).
func Decode(r io.Reader, format string) (*Registry, error) {
	var d Data
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&d); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode registry: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&d); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode registry: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported registry format: %s", format)
	}
	return New(d)
}

// New validates d and builds a registry from it.
func New(d Data) (*Registry, error) {
	r := &Registry{
		orders:       make(map[string]model.WorkOrder, len(d.WorkOrders)),
		machines:     make(map[string]model.Machine, len(d.Machines)),
		capabilities: append([]model.MachineCapability(nil), d.Capabilities...),
		plans:        make(map[string]model.ProductionPlan, len(d.Plans)),
		reports:      append([]model.ProductionReport(nil), d.Reports...),
	}
	for _, m := range d.Machines {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if m.Status == "" {
			m.Status = model.MachineIdle
		}
		r.machines[m.ID] = m
	}
	for _, wo := range d.WorkOrders {
		if wo.ID == "" {
			return nil, fmt.Errorf("work order id is required")
		}
		seen := make(map[string]bool, len(wo.Operations))
		for i := range wo.Operations {
			op := &wo.Operations[i]
			if op.ID == "" {
				return nil, fmt.Errorf("work order %s: operation %d has no id", wo.ID, i)
			}
			if seen[op.ID] {
				return nil, fmt.Errorf("work order %s: duplicate operation %s", wo.ID, op.ID)
			}
			seen[op.ID] = true
			op.WorkOrderID = wo.ID
			if op.Sequence == 0 {
				op.Sequence = i + 1
			}
		}
		if wo.Status == "" {
			wo.Status = model.WorkOrderPending
		}
		if wo.Priority == "" {
			wo.Priority = model.PriorityMedium
		}
		r.orders[wo.ID] = wo
	}
	for _, p := range d.Plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan id is required")
		}
		r.plans[p.ID] = p
	}
	return r, nil
}

func (r *Registry) WorkOrders(ctx context.Context, ids []string) ([]model.WorkOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(ids) == 0 {
		out := make([]model.WorkOrder, 0, len(r.orders))
		for _, wo := range r.orders {
			out = append(out, wo)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	out := make([]model.WorkOrder, 0, len(ids))
	for _, id := range ids {
		wo, ok := r.orders[id]
		if !ok {
			return nil, fmt.Errorf("work order %s: %w", id, model.ErrNotFound)
		}
		out = append(out, wo)
	}
	return out, nil
}

func (r *Registry) SetWorkOrderStatus(ctx context.Context, id string, status model.WorkOrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wo, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("work order %s: %w", id, model.ErrNotFound)
	}
	wo.Status = status
	r.orders[id] = wo
	return nil
}

func (r *Registry) Machines(ctx context.Context, ids []string) ([]model.Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Machine
	if len(ids) == 0 {
		for _, m := range r.machines {
			out = append(out, m)
		}
	} else {
		for _, id := range ids {
			m, ok := r.machines[id]
			if !ok {
				return nil, fmt.Errorf("machine %s: %w", id, model.ErrNotFound)
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) Capabilities(ctx context.Context, machineIDs []string) ([]model.MachineCapability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(machineIDs))
	for _, id := range machineIDs {
		want[id] = true
	}
	var out []model.MachineCapability
	for _, c := range r.capabilities {
		if len(want) == 0 || want[c.MachineID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Registry) Plan(ctx context.Context, id string) (model.ProductionPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return model.ProductionPlan{}, fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

func (r *Registry) Plans(ctx context.Context, status model.PlanStatus) ([]model.ProductionPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.ProductionPlan
	for _, p := range r.plans {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) Reports(ctx context.Context, machineIDs []string, w model.TimeWindow) ([]model.ProductionReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(machineIDs))
	for _, id := range machineIDs {
		want[id] = true
	}
	var out []model.ProductionReport
	for _, rep := range r.reports {
		if len(want) > 0 && !want[rep.MachineID] {
			continue
		}
		if !rep.Window.Overlaps(w) {
			continue
		}
		out = append(out, rep)
	}
	return out, nil
}

func (r *Registry) AddReport(ctx context.Context, rep model.ProductionReport) error {
	if rep.MachineID == "" {
		return fmt.Errorf("report without machine id")
	}
	if !rep.Window.End.After(rep.Window.Start) {
		return fmt.Errorf("report window for %s is empty", rep.MachineID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.machines[rep.MachineID]; !ok {
		return fmt.Errorf("machine %s: %w", rep.MachineID, model.ErrNotFound)
	}
	r.reports = append(r.reports, rep)
	return nil
}
