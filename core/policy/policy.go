package policy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/shopsched/core/model"
)

// Candidate is an operation awaiting placement, together with its work order.
type Candidate struct {
	Operation model.Operation
	WorkOrder model.WorkOrder
}

// Ref identifies the candidate's operation.
func (c Candidate) Ref() model.OpRef { return c.WorkOrder.Ref(c.Operation) }

// Sequencer sorts candidates for one dispatch rule.
type Sequencer interface {
	Rule() model.Rule
	Order(candidates []Candidate, now time.Time) []Candidate
}

// For returns the sequencer implementing rule.
func For(rule model.Rule) (Sequencer, error) {
	switch rule {
	case model.RuleEDD:
		return EDD{}, nil
	case model.RuleSPT:
		return SPT{}, nil
	case model.RuleCR:
		return CR{}, nil
	case model.RuleFIFO:
		return FIFO{}, nil
	case model.RulePriority:
		return Priority{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rule %d", model.ErrInvalidPolicy, int(rule))
	}
}

// Order sorts candidates with the sequencer for rule.
func Order(rule model.Rule, candidates []Candidate, now time.Time) ([]Candidate, error) {
	seq, err := For(rule)
	if err != nil {
		return nil, err
	}
	return seq.Order(candidates, now), nil
}

// Candidates flattens work orders into candidates, skipping operations that
// are already placed.
func Candidates(orders []model.WorkOrder, placed map[model.OpRef]bool) []Candidate {
	var out []Candidate
	for _, wo := range orders {
		for _, op := range wo.Operations {
			if placed[wo.Ref(op)] {
				continue
			}
			if op.WorkOrderID == "" {
				op.WorkOrderID = wo.ID
			}
			out = append(out, Candidate{Operation: op, WorkOrder: wo})
		}
	}
	return out
}

// EDD orders by earliest due date.
type EDD struct{}

func (EDD) Rule() model.Rule { return model.RuleEDD }

func (EDD) Order(c []Candidate, now time.Time) []Candidate {
	return sortWith(c, func(a, b Candidate) bool { return lessEDD(a, b) })
}

// SPT orders by shortest processing time.
type SPT struct{}

func (SPT) Rule() model.Rule { return model.RuleSPT }

func (SPT) Order(c []Candidate, now time.Time) []Candidate {
	return sortWith(c, func(a, b Candidate) bool {
		if a.Operation.DurationMinutes != b.Operation.DurationMinutes {
			return a.Operation.DurationMinutes < b.Operation.DurationMinutes
		}
		return lessEDD(a, b)
	})
}

// CR orders by critical ratio: time to due date over remaining processing
// time. Late work (ratio <= 0) comes first.
type CR struct{}

func (CR) Rule() model.Rule { return model.RuleCR }

func (CR) Order(c []Candidate, now time.Time) []Candidate {
	ratios := make(map[model.OpRef]float64, len(c))
	for _, cand := range c {
		ratios[cand.Ref()] = CriticalRatio(cand, now)
	}
	return sortWith(c, func(a, b Candidate) bool {
		ra, rb := ratios[a.Ref()], ratios[b.Ref()]
		if ra != rb {
			return ra < rb
		}
		return lessIDs(a, b)
	})
}

// CriticalRatio computes (due - now) / remaining processing minutes.
func CriticalRatio(c Candidate, now time.Time) float64 {
	slack := c.WorkOrder.DueDate.Sub(now).Minutes()
	remaining := float64(c.WorkOrder.RemainingMinutes(c.Operation))
	if remaining <= 0 {
		if slack <= 0 {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	return slack / remaining
}

// FIFO orders by work order arrival.
type FIFO struct{}

func (FIFO) Rule() model.Rule { return model.RuleFIFO }

func (FIFO) Order(c []Candidate, now time.Time) []Candidate {
	return sortWith(c, func(a, b Candidate) bool {
		ca, cb := a.WorkOrder.CreatedAt, b.WorkOrder.CreatedAt
		if !ca.Equal(cb) {
			return ca.Before(cb)
		}
		return lessIDs(a, b)
	})
}

// Priority orders by work order priority, most urgent first, then EDD.
type Priority struct{}

func (Priority) Rule() model.Rule { return model.RulePriority }

func (Priority) Order(c []Candidate, now time.Time) []Candidate {
	return sortWith(c, func(a, b Candidate) bool {
		ra, rb := a.WorkOrder.Priority.Rank(), b.WorkOrder.Priority.Rank()
		if ra != rb {
			return ra > rb
		}
		return lessEDD(a, b)
	})
}

func lessEDD(a, b Candidate) bool {
	da, db := a.WorkOrder.DueDate, b.WorkOrder.DueDate
	if !da.Equal(db) {
		return da.Before(db)
	}
	return lessIDs(a, b)
}

// lessIDs is the final tie-break: work order id, sequence, operation id.
func lessIDs(a, b Candidate) bool {
	if a.WorkOrder.ID != b.WorkOrder.ID {
		return a.WorkOrder.ID < b.WorkOrder.ID
	}
	if a.Operation.Sequence != b.Operation.Sequence {
		return a.Operation.Sequence < b.Operation.Sequence
	}
	return a.Operation.ID < b.Operation.ID
}

func sortWith(in []Candidate, less func(a, b Candidate) bool) []Candidate {
	out := make([]Candidate, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	keepPrecedence(out)
	return out
}

// keepPrecedence re-lays the operations of each work order in sequence order
// inside the positions the rule assigned to that work order.
func keepPrecedence(c []Candidate) {
	positions := make(map[string][]int)
	var order []string
	for i, cand := range c {
		id := cand.WorkOrder.ID
		if _, ok := positions[id]; !ok {
			order = append(order, id)
		}
		positions[id] = append(positions[id], i)
	}
	for _, id := range order {
		idx := positions[id]
		if len(idx) < 2 {
			continue
		}
		group := make([]Candidate, len(idx))
		for k, i := range idx {
			group[k] = c[i]
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Operation.Sequence != group[j].Operation.Sequence {
				return group[i].Operation.Sequence < group[j].Operation.Sequence
			}
			return group[i].Operation.ID < group[j].Operation.ID
		})
		for k, i := range idx {
			c[i] = group[k]
		}
	}
}
