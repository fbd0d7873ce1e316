package engine

import (
	"context"

	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/core/store"
)

// DeriveStatus computes the status of a work order from the slots of its
// operations. A work order is completed when every operation has a
// completed slot, delayed when any slot is delayed, in progress once a
// slot has started and scheduled when every operation holds a slot.
func DeriveStatus(wo model.WorkOrder, slots []model.ScheduleSlot) model.WorkOrderStatus {
	if len(wo.Operations) == 0 {
		return wo.Status
	}
	byOp := make(map[string]model.SlotStatus, len(slots))
	for _, s := range slots {
		if s.WorkOrderID == wo.ID {
			byOp[s.OperationID] = s.Status
		}
	}
	var held, started, completed int
	delayed := false
	for _, op := range wo.Operations {
		st, ok := byOp[op.ID]
		if !ok {
			continue
		}
		held++
		switch st {
		case model.SlotCompleted:
			completed++
			started++
		case model.SlotInProgress:
			started++
		case model.SlotDelayed:
			delayed = true
		}
	}
	switch {
	case completed == len(wo.Operations):
		return model.WorkOrderCompleted
	case delayed:
		return model.WorkOrderDelayed
	case started > 0:
		return model.WorkOrderInProgress
	case held == len(wo.Operations):
		return model.WorkOrderScheduled
	default:
		return model.WorkOrderPending
	}
}

// deriveStatuses writes the derived status of each order whose status
// changes. Write failures are logged.
func (e *Engine) deriveStatuses(ctx context.Context, orders []model.WorkOrder, slots []model.ScheduleSlot) {
	if e.status == nil {
		return
	}
	for _, wo := range orders {
		st := DeriveStatus(wo, slots)
		if st == wo.Status {
			continue
		}
		if err := e.status.SetWorkOrderStatus(ctx, wo.ID, st); err != nil {
			e.log.Warnf("work order %s status %s: %v", wo.ID, st, err)
			continue
		}
		e.log.Debugf("work order %s: %s -> %s", wo.ID, wo.Status, st)
	}
}

// refreshStatuses reloads the work orders touched by slots and their full
// slot sets before deriving statuses.
func (e *Engine) refreshStatuses(ctx context.Context, slots []model.ScheduleSlot) {
	if e.status == nil || len(slots) == 0 {
		return
	}
	var ids []string
	for _, s := range slots {
		ids = append(ids, s.WorkOrderID)
	}
	ids = uniqueSorted(ids)
	orders, err := e.ordersFor(ctx, ids)
	if err != nil {
		e.log.Warnf("reload work orders: %v", err)
		return
	}
	all, err := e.slots.Slots(ctx, store.SlotQuery{WorkOrderIDs: ids})
	if err != nil {
		e.log.Warnf("reload slots: %v", err)
		return
	}
	list := make([]model.WorkOrder, 0, len(orders))
	for _, id := range ids {
		if wo, ok := orders[id]; ok {
			list = append(list, wo)
		}
	}
	e.deriveStatuses(ctx, list, all)
}
