// Package store implements the SQLite-backed persistence layer (spec
// §4.2): messages, workspaces, capabilities, trust, knowledge, sessions,
// workflows, retros, and activity. The open/migrate/close shape —
// sql.Open("sqlite", path), a single-connection pool, idempotent
// CREATE TABLE IF NOT EXISTS — is grounded on
// Aureuma-si/apps/ReleaseParty/backend/internal/store.Store, the one
// pack repo that already uses modernc.org/sqlite this way.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// base wraps the shared connection-lifecycle contract every store needs:
// WAL mode on first open, idempotent schema creation, and a close that is
// safe to call once. ":memory:" works for tests.
type base struct {
	db *sql.DB
}

// openBase opens a SQLite database at path (or ":memory:"), enables WAL
// mode (skipped for ":memory:", which has no separate WAL file), and runs
// the given idempotent schema statements.
func openBase(path string, schema []string) (*base, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	b := &base{db: db}
	if err := b.migrate(context.Background(), path, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *base) migrate(ctx context.Context, path string, schema []string) error {
	stmts := make([]string, 0, len(schema)+1)
	if path != ":memory:" {
		stmts = append(stmts, `PRAGMA journal_mode=WAL;`)
	}
	stmts = append(stmts, schema...)
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close is safe to call once; a nil receiver or nil db is a no-op.
func (b *base) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
