// Package store is the durable record of groups, messages, worker runs,
// steering events, and scheduled tasks. It owns monotonic ingest
// sequencing and serializes all worker_run state transitions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nanoclaw/host/internal/bus"
)

const (
	schemaVersion  = 1
	schemaChecksum = "nanoclaw-v1-orchestration-host"
)

// Store wraps a single-writer SQLite connection.
type Store struct {
	db  *sql.DB
	bus *bus.Bus
}

// DefaultDBPath returns the default database location under homeDir.
func DefaultDBPath(homeDir string) string {
	return filepath.Join(homeDir, "nanoclaw.db")
}

// Open opens (creating if necessary) the SQLite database at path and runs
// schema migrations. eventBus may be nil; when set, state transitions are
// published onto it.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// Single-writer serializability: the host is the only writer, and the
	// worker_run state machine relies on one connection seeing its own writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, bus: eventBus}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB, e.g. for audit.SetDB.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// retryOnBusy retries f when SQLite reports BUSY/LOCKED, with bounded
// exponential backoff plus jitter, on top of the driver's own busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if maxVersion == schemaVersion {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existingChecksum != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existingChecksum, schemaChecksum)
		}
		return tx.Commit()
	}

	tableStatements := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			group_folder TEXT PRIMARY KEY,
			lane_class TEXT NOT NULL CHECK(lane_class IN ('main','controller-developer','controller-observer','worker')),
			image TEXT NOT NULL DEFAULT '',
			mounts TEXT NOT NULL DEFAULT '[]',
			secret_scope TEXT NOT NULL DEFAULT '',
			registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			ingest_seq INTEGER PRIMARY KEY AUTOINCREMENT,
			group_folder TEXT NOT NULL,
			chat_jid TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS group_cursors (
			group_folder TEXT PRIMARY KEY,
			last_ingest_seq INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS worker_runs (
			run_id TEXT PRIMARY KEY,
			group_folder TEXT NOT NULL,
			state TEXT NOT NULL CHECK(state IN ('queued','running','review_requested','failed_contract','failed','done')),
			retry_count INTEGER NOT NULL DEFAULT 0,
			dispatch_repo TEXT NOT NULL DEFAULT '',
			dispatch_branch TEXT NOT NULL DEFAULT '',
			context_intent TEXT NOT NULL DEFAULT 'fresh' CHECK(context_intent IN ('fresh','continue')),
			parent_run_id TEXT,
			branch TEXT,
			commit_sha TEXT,
			files_changed TEXT,
			test_result TEXT,
			risk TEXT,
			pr_url TEXT,
			pr_skipped_reason TEXT,
			failure_reason TEXT,
			dispatch_session_id TEXT,
			selected_session_id TEXT,
			effective_session_id TEXT,
			session_selection_source TEXT,
			session_resume_status TEXT CHECK(session_resume_status IS NULL OR session_resume_status IN ('resumed','fallback_new','new')),
			session_resume_error TEXT,
			last_progress_summary TEXT,
			last_progress_at DATETIME,
			steer_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS worker_steering_events (
			steer_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES worker_runs(run_id),
			from_group TEXT NOT NULL,
			message TEXT NOT NULL,
			sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			acked_at DATETIME,
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','acked','expired'))
		);`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			group_folder TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			prompt TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			last_run_at DATETIME,
			next_run_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_folder TEXT NOT NULL,
			lane TEXT NOT NULL,
			run_id TEXT,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			policy_version TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_group_seq ON messages(group_folder, ingest_seq);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_runs_group_state ON worker_runs(group_folder, state);`,
		`CREATE INDEX IF NOT EXISTS idx_steer_run ON worker_steering_events(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(enabled, next_run_at);`,
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ErrNotFound is returned by lookups for rows that don't exist.
var ErrNotFound = errors.New("store: not found")
