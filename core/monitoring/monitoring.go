// Package monitoring reports unexpected failures to an error tracker.
package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// Recover must be deferred directly; it reports a panic and re-panics.
	Recover()
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

// Recorder keeps captured errors in memory. Tests use it to assert what
// would have been reported.
type Recorder struct {
	mu     sync.Mutex
	errors []error
}

func (r *Recorder) CaptureException(err error, _ map[string]string) {
	r.mu.Lock()
	r.errors = append(r.errors, err)
	r.mu.Unlock()
}

// Captured returns the errors reported so far.
func (r *Recorder) Captured() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

func (r *Recorder) Recover()            {}
func (r *Recorder) Flush(time.Duration) {}
