package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/shopsched/core/model"
	core "github.com/kilianp07/shopsched/core/store"
)

// MemorySlotStore keeps slots in memory. A single mutex makes every commit
// atomic.
type MemorySlotStore struct {
	mu       sync.RWMutex
	slots    map[string]model.ScheduleSlot
	versions map[string]int64
}

var _ core.SlotStore = (*MemorySlotStore)(nil)

func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{
		slots:    make(map[string]model.ScheduleSlot),
		versions: make(map[string]int64),
	}
}

func (m *MemorySlotStore) Slots(ctx context.Context, q core.SlotQuery) ([]model.ScheduleSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ScheduleSlot
	for _, s := range m.slots {
		if q.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MachineID != b.MachineID {
			return a.MachineID < b.MachineID
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *MemorySlotStore) Slot(ctx context.Context, id string) (model.ScheduleSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[id]
	if !ok {
		return model.ScheduleSlot{}, fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemorySlotStore) Versions(ctx context.Context, machineIDs []string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(machineIDs))
	for _, id := range machineIDs {
		out[id] = m.versions[id]
	}
	return out, nil
}

func (m *MemorySlotStore) Commit(ctx context.Context, c core.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := c.Machines()
	for _, id := range c.Delete {
		s, ok := m.slots[id]
		if !ok {
			return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
		}
		touched = append(touched, s.MachineID)
	}
	for _, s := range c.Upsert {
		if old, ok := m.slots[s.ID]; ok {
			touched = append(touched, old.MachineID)
		}
	}
	for _, id := range touched {
		if _, ok := c.Expected[id]; !ok {
			return fmt.Errorf("commit touches machine %s without an expected version", id)
		}
	}
	for id, want := range c.Expected {
		if m.versions[id] != want {
			return fmt.Errorf("machine %s at version %d, expected %d: %w", id, m.versions[id], want, model.ErrConcurrentModification)
		}
	}

	for id := range c.Expected {
		m.versions[id]++
	}
	for _, id := range c.Delete {
		delete(m.slots, id)
	}
	for _, s := range c.Upsert {
		s = s.Clone()
		s.Version = m.versions[s.MachineID]
		if s.Status == "" {
			s.Status = model.SlotScheduled
		}
		m.slots[s.ID] = s
	}
	return nil
}

func (m *MemorySlotStore) Close() error { return nil }
