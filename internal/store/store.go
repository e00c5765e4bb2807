// Package store provides the sqlite-backed persistence layer: insights,
// incidents, actions, audit log, notification log, monitoring
// snapshots/cycles, settings and webhooks. It uses modernc.org/sqlite, a
// pure-Go driver with no cgo dependency, so the binary stays statically
// linkable.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store owns the database handle and exposes the domain-specific
// operations the rest of the system needs. It is safe for concurrent use;
// database/sql pools connections internally and sqlite serializes writers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// the schema migrations. The pool holds up to 8 connections and no
// separate writer limit is set; concurrent writers are serialized by
// sqlite itself, waiting up to the 5-second busy_timeout.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for callers that need it beyond the typed
// methods below (e.g. the readiness ping).
func (s *Store) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS insights (
	id TEXT PRIMARY KEY,
	endpoint_id INTEGER,
	endpoint_name TEXT,
	container_id TEXT,
	container_name TEXT,
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	suggested_action TEXT,
	dedup_key TEXT NOT NULL,
	is_acknowledged INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE(dedup_key)
);
CREATE INDEX IF NOT EXISTS idx_insights_created_at ON insights(created_at);

CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	severity TEXT NOT NULL,
	root_cause_insight_id TEXT,
	related_insight_ids TEXT NOT NULL DEFAULT '[]',
	affected_containers TEXT NOT NULL DEFAULT '[]',
	correlation_type TEXT NOT NULL,
	correlation_confidence TEXT NOT NULL,
	insight_count INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	insight_id TEXT,
	endpoint_id INTEGER NOT NULL,
	container_id TEXT NOT NULL,
	container_name TEXT NOT NULL,
	action_type TEXT NOT NULL,
	rationale TEXT,
	status TEXT NOT NULL,
	approved_by TEXT,
	approved_at DATETIME,
	rejected_by TEXT,
	rejected_at DATETIME,
	rejection_reason TEXT,
	executed_at DATETIME,
	completed_at DATETIME,
	execution_result TEXT,
	execution_duration_ms INTEGER,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	username TEXT,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	request_id TEXT,
	ip_address TEXT,
	details TEXT NOT NULL DEFAULT '{}',
	signature TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS notification_log (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	event_type TEXT NOT NULL,
	title TEXT,
	body TEXT,
	severity TEXT,
	container_id TEXT,
	container_name TEXT,
	endpoint_id INTEGER,
	status TEXT NOT NULL,
	error TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS monitoring_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	containers_running INTEGER NOT NULL,
	containers_stopped INTEGER NOT NULL,
	containers_unhealthy INTEGER NOT NULL,
	endpoints_up INTEGER NOT NULL,
	endpoints_down INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS monitoring_cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	duration_ms INTEGER NOT NULL,
	insights_created INTEGER NOT NULL DEFAULT 0,
	circuit_breaker_skips INTEGER NOT NULL DEFAULT 0,
	pre_filter_circuit_skips INTEGER NOT NULL DEFAULT 0,
	container_fetch_failures INTEGER NOT NULL DEFAULT 0,
	errored INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	secret TEXT,
	event_types TEXT NOT NULL DEFAULT '[]',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	webhook_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	status_code INTEGER,
	error TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS llm_traces (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	prompt TEXT,
	response TEXT,
	duration_ms INTEGER,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS investigations (
	id TEXT PRIMARY KEY,
	insight_id TEXT NOT NULL,
	status TEXT NOT NULL,
	summary TEXT,
	created_at DATETIME NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
