package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/shopsched/core/model"
)

// MachineLocks serializes mutations per machine inside the process.
type MachineLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMachineLocks() *MachineLocks {
	return &MachineLocks{held: make(map[string]bool)}
}

// TryAcquire locks every machine in ids or none of them. It never waits:
// when one machine is already held it returns model.ErrMachineBusy. The
// returned func releases the locks and is safe to call more than once.
func (l *MachineLocks) TryAcquire(ids []string) (func(), error) {
	set := uniqueSorted(ids)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range set {
		if l.held[id] {
			return func() {}, fmt.Errorf("machine %s: %w", id, model.ErrMachineBusy)
		}
	}
	for _, id := range set {
		l.held[id] = true
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			for _, id := range set {
				delete(l.held, id)
			}
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether the machine is currently locked.
func (l *MachineLocks) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
