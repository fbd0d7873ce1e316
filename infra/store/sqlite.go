package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kilianp07/shopsched/core/model"
	core "github.com/kilianp07/shopsched/core/store"
)

const timeLayout = time.RFC3339

// SQLiteSlotStore persists slots and machine versions in SQLite.
type SQLiteSlotStore struct {
	db  *sql.DB
	uow UnitOfWork
}

var _ core.SlotStore = (*SQLiteSlotStore)(nil)

// NewSQLiteSlotStore opens the database at path.
func NewSQLiteSlotStore(path string) (*SQLiteSlotStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteSlotStoreFromDB(db, NewSQLUnitOfWork(db)), nil
}

// NewSQLiteSlotStoreFromDB wraps an already migrated database.
func NewSQLiteSlotStoreFromDB(db *sql.DB, uow UnitOfWork) *SQLiteSlotStore {
	return &SQLiteSlotStore{db: db, uow: uow}
}

const slotColumns = `id, work_order_id, operation_id, machine_id, start_at, end_at, status,
	priority, assigned_operator, tags, duration_override, version`

func (s *SQLiteSlotStore) Slots(ctx context.Context, q core.SlotQuery) ([]model.ScheduleSlot, error) {
	return querySlots(ctx, s.db, q)
}

func querySlots(ctx context.Context, db DBTX, q core.SlotQuery) ([]model.ScheduleSlot, error) {
	var (
		where []string
		args  []any
	)
	if len(q.MachineIDs) > 0 {
		where = append(where, "machine_id IN ("+placeholders(len(q.MachineIDs))+")")
		args = append(args, strArgs(q.MachineIDs)...)
	}
	if len(q.WorkOrderIDs) > 0 {
		where = append(where, "work_order_id IN ("+placeholders(len(q.WorkOrderIDs))+")")
		args = append(args, strArgs(q.WorkOrderIDs)...)
	}
	if !q.Window.Start.IsZero() && !q.Window.End.IsZero() {
		where = append(where, "start_at < ? AND end_at > ?")
		args = append(args, formatTime(q.Window.End), formatTime(q.Window.Start))
	}
	if len(q.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}
	query := `SELECT ` + slotColumns + ` FROM schedule_slots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY machine_id, start_at, id`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.ScheduleSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating slots: %w", err)
	}
	return out, nil
}

func (s *SQLiteSlotStore) Slot(ctx context.Context, id string) (model.ScheduleSlot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM schedule_slots WHERE id = ?`, id)
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduleSlot{}, fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	return slot, err
}

func (s *SQLiteSlotStore) Versions(ctx context.Context, machineIDs []string) (map[string]int64, error) {
	return readVersions(ctx, s.db, machineIDs)
}

func readVersions(ctx context.Context, db DBTX, machineIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(machineIDs))
	if len(machineIDs) == 0 {
		return out, nil
	}
	for _, id := range machineIDs {
		out[id] = 0
	}
	rows, err := db.QueryContext(ctx,
		`SELECT machine_id, version FROM machine_versions WHERE machine_id IN (`+placeholders(len(machineIDs))+`)`,
		strArgs(machineIDs)...)
	if err != nil {
		return nil, fmt.Errorf("reading machine versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id string
			v  int64
		)
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("scanning machine version: %w", err)
		}
		out[id] = v
	}
	return out, rows.Err()
}

// Commit applies c in a single transaction guarded by a compare-and-swap on
// every expected machine version.
func (s *SQLiteSlotStore) Commit(ctx context.Context, c core.Commit) error {
	return s.uow.WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
		if err := checkTouched(ctx, tx, c); err != nil {
			return err
		}
		machines := make([]string, 0, len(c.Expected))
		for id := range c.Expected {
			machines = append(machines, id)
		}
		sort.Strings(machines)
		next := make(map[string]int64, len(machines))
		for _, id := range machines {
			want := c.Expected[id]
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO machine_versions (machine_id, version) VALUES (?, 0) ON CONFLICT(machine_id) DO NOTHING`, id); err != nil {
				return fmt.Errorf("seeding version for %s: %w", id, err)
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE machine_versions SET version = version + 1 WHERE machine_id = ? AND version = ?`, id, want)
			if err != nil {
				return fmt.Errorf("bumping version for %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("bumping version for %s: %w", id, err)
			}
			if n != 1 {
				return fmt.Errorf("machine %s at version %d: %w", id, want, model.ErrConcurrentModification)
			}
			next[id] = want + 1
		}
		for _, id := range c.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_slots WHERE id = ?`, id); err != nil {
				return fmt.Errorf("deleting slot %s: %w", id, err)
			}
		}
		for _, slot := range c.Upsert {
			slot.Version = next[slot.MachineID]
			if err := upsertSlot(ctx, tx, slot); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkTouched ensures every machine affected by c is listed in Expected.
func checkTouched(ctx context.Context, tx DBTX, c core.Commit) error {
	touched := c.Machines()
	for _, id := range c.Delete {
		var machine string
		err := tx.QueryRowContext(ctx, `SELECT machine_id FROM schedule_slots WHERE id = ?`, id).Scan(&machine)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolving slot %s: %w", id, err)
		}
		touched = append(touched, machine)
	}
	for _, slot := range c.Upsert {
		var machine string
		err := tx.QueryRowContext(ctx, `SELECT machine_id FROM schedule_slots WHERE id = ?`, slot.ID).Scan(&machine)
		if err == nil {
			touched = append(touched, machine)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("resolving slot %s: %w", slot.ID, err)
		}
	}
	for _, id := range touched {
		if _, ok := c.Expected[id]; !ok {
			return fmt.Errorf("commit touches machine %s without an expected version", id)
		}
	}
	return nil
}

func upsertSlot(ctx context.Context, tx DBTX, s model.ScheduleSlot) error {
	tags, err := json.Marshal(nonNil(s.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO schedule_slots (`+slotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			work_order_id = excluded.work_order_id,
			operation_id = excluded.operation_id,
			machine_id = excluded.machine_id,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			priority = excluded.priority,
			assigned_operator = excluded.assigned_operator,
			tags = excluded.tags,
			duration_override = excluded.duration_override,
			version = excluded.version`,
		s.ID, s.WorkOrderID, s.OperationID, s.MachineID,
		formatTime(s.Start), formatTime(s.End), string(statusOrDefault(s.Status)),
		string(s.Priority), s.AssignedOperator, string(tags), boolToInt(s.DurationOverride), s.Version,
	)
	if err != nil {
		return fmt.Errorf("writing slot %s: %w", s.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSlot(row scanner) (model.ScheduleSlot, error) {
	var (
		s                  model.ScheduleSlot
		start, end, status string
		priority, tags     string
		override           int
	)
	if err := row.Scan(&s.ID, &s.WorkOrderID, &s.OperationID, &s.MachineID, &start, &end, &status,
		&priority, &s.AssignedOperator, &tags, &override, &s.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scanning slot: %w", err)
	}
	var err error
	if s.Start, err = time.Parse(timeLayout, start); err != nil {
		return s, fmt.Errorf("parsing start of %s: %w", s.ID, err)
	}
	if s.End, err = time.Parse(timeLayout, end); err != nil {
		return s, fmt.Errorf("parsing end of %s: %w", s.ID, err)
	}
	s.Status = model.SlotStatus(status)
	s.Priority = model.Priority(priority)
	s.DurationOverride = override != 0
	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		return s, fmt.Errorf("decoding tags of %s: %w", s.ID, err)
	}
	if len(s.Tags) == 0 {
		s.Tags = nil
	}
	return s, nil
}

func (s *SQLiteSlotStore) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func statusOrDefault(st model.SlotStatus) model.SlotStatus {
	if st == "" {
		return model.SlotScheduled
	}
	return st
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func strArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
