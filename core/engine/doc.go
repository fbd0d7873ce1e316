// Package engine orchestrates scheduling requests.
//
// An Engine reads work orders, machines and capabilities from its readers,
// sequences operations with the configured dispatch rule, allocates them
// onto machine timelines, validates the result and commits it to the slot
// store under a per-machine version check. Mutating calls hold an
// in-process lock on every machine they touch and fail fast with
// model.ErrMachineBusy when another call holds one of them. Commits that
// lose the version race are recomputed against fresh state up to
// Config.MaxRetries times.
//
// Committed changes are appended to the audit log, published on the event
// bus and recorded by the metrics sink.
package engine
