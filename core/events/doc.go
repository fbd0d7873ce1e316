// Package events defines the scheduling events emitted on the event bus.
//
// Available event types:
//   - ScheduleEvent: slots committed by a plan, re-plan, bulk update or
//     status change, with the conflicts found and the resulting load
package events
