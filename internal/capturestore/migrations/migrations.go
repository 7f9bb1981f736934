// Package migrations applies the capture store's single table using
// goose against an embedded SQL migration. Trimmed from the teacher's
// internal/database/migrations/runner.go: that runner dialect-detects
// across sqlite3/postgres and advisory-locks accordingly. This store's
// configuration (§6) only ever names a single embedded SQL engine
// (sqlite::memory: or a file URI), so the postgres branch is dropped —
// there is no config surface that could select it.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// Runner applies goose migrations against an empty sqlite3 database,
// guarded by a lock table so two park processes racing to start
// against the same file-backed database do not run migrations twice.
type Runner struct {
	db *sql.DB
}

// New creates a migration runner for db.
func New(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	release, err := r.acquireLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	goose.SetBaseFS(sqlFiles)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(r.db, "sql"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// acquireLock acquires a lock table row, retrying briefly if another
// process holds it, mirroring the teacher's SQLite advisory-lock table.
func (r *Runner) acquireLock() (func(), error) {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS migration_lock (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			locked BOOLEAN NOT NULL DEFAULT 0,
			locked_at DATETIME,
			process_id INTEGER
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock table: %w", err)
	}
	_, _ = r.db.Exec(`INSERT OR IGNORE INTO migration_lock (id, locked) VALUES (1, 0)`)

	const maxRetries = 10
	const retryDelay = 100 * time.Millisecond
	pid := os.Getpid()

	for i := 0; i < maxRetries; i++ {
		res, err := r.db.Exec(`
			UPDATE migration_lock SET locked = 1, locked_at = CURRENT_TIMESTAMP, process_id = ?
			WHERE id = 1 AND locked = 0
		`, pid)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return func() {
				_, _ = r.db.Exec(`UPDATE migration_lock SET locked = 0 WHERE id = 1`)
			}, nil
		}
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("migration lock is already held by another process (tried %d times)", maxRetries)
}
