package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenDB opens the SQLite database at path, enables WAL and foreign keys
// and runs migrations. ":memory:" keeps a single connection so every query
// sees the same database.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating db directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schedule_slots (
		id                TEXT PRIMARY KEY,
		work_order_id     TEXT NOT NULL,
		operation_id      TEXT NOT NULL,
		machine_id        TEXT NOT NULL,
		start_at          TEXT NOT NULL,
		end_at            TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'scheduled'
		                  CHECK(status IN ('scheduled','in_progress','completed','delayed')),
		priority          TEXT NOT NULL DEFAULT '',
		assigned_operator TEXT NOT NULL DEFAULT '',
		tags              TEXT NOT NULL DEFAULT '[]',
		duration_override INTEGER NOT NULL DEFAULT 0,
		version           INTEGER NOT NULL DEFAULT 0,
		CHECK(end_at > start_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_machine ON schedule_slots(machine_id, start_at)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_work_order ON schedule_slots(work_order_id)`,
	`CREATE TABLE IF NOT EXISTS machine_versions (
		machine_id TEXT PRIMARY KEY,
		version    INTEGER NOT NULL DEFAULT 0
	)`,
}
