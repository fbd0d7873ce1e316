package model

import "errors"

var (
	// ErrInvalidPolicy is returned for an unknown rule or an out-of-range
	// horizon. The whole request is rejected.
	ErrInvalidPolicy = errors.New("invalid scheduling policy")
	// ErrNoFeasibleMachine means no active capability exists for an
	// operation type on any usable machine.
	ErrNoFeasibleMachine = errors.New("no feasible machine")
	// ErrCapacityExceeded means an operation could not be placed within the
	// planning horizon even after relaxing to the maximum overload.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrConcurrentModification signals a version mismatch on a machine
	// during commit. Callers retry with fresh state.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrMalformedSlot is returned when end <= start or a referenced
	// machine or operation does not exist.
	ErrMalformedSlot = errors.New("malformed slot")
	// ErrMachineBusy is returned when a machine is under active mutation.
	ErrMachineBusy = errors.New("machine busy")
	ErrNotFound    = errors.New("not found")
	// ErrInvalidRequest covers malformed query parameters such as an empty
	// date range or an unknown granularity.
	ErrInvalidRequest = errors.New("invalid request")
)
