// Package store is the durable Job Store and Scheduler Store: a single
// SQLite database (WAL mode, foreign keys on) holding the jobs and
// job_schedulers tables, accessed through database/sql the same way the
// daemon package wraps its runs/units/events tables.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection backing the job queue engine.
type Store struct {
	conn *sql.DB
}

// Open creates or opens a SQLite database at path, enabling WAL mode
// and foreign keys, and runs migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT PRIMARY KEY,
    env_name        TEXT NOT NULL,
    queue_name      TEXT NOT NULL,
    name            TEXT NOT NULL,
    type            TEXT NOT NULL,
    command         TEXT NOT NULL,
    meta_json       TEXT NOT NULL DEFAULT '{}',
    pid             INTEGER,
    priority        INTEGER NOT NULL,
    status          TEXT NOT NULL,
    retry_count     INTEGER NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL,
    recurrence      TEXT NOT NULL DEFAULT '',
    archived        BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS job_schedulers (
    id                      TEXT PRIMARY KEY,
    env_name                TEXT NOT NULL,
    name                    TEXT NOT NULL,
    description             TEXT NOT NULL DEFAULT '',
    trigger_type            TEXT NOT NULL,
    repeat_every_seconds    INTEGER,
    job_template_json       TEXT NOT NULL DEFAULT '{}',
    enabled                 BOOLEAN NOT NULL DEFAULT 1,
    last_run                INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_env_queue ON jobs(env_name, queue_name);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_queue_status ON jobs(queue_name, status);
CREATE INDEX IF NOT EXISTS idx_jobs_archived ON jobs(archived);
CREATE INDEX IF NOT EXISTS idx_job_schedulers_env ON job_schedulers(env_name);
CREATE INDEX IF NOT EXISTS idx_job_schedulers_trigger ON job_schedulers(trigger_type, enabled);
`
	_, err := s.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}
