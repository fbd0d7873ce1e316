// Package capacity models machine availability and load.
//
// Availability comes from a machine's shift calendar minus its downtime.
// Buckets aggregate availability and planned minutes per shift, day or
// week; they are always derived from the slot set and never cached. A
// Timeline is the mutable per-machine view the allocator works on.
package capacity
