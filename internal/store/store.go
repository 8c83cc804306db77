// Package store provides the Postgres-backed implementations of the
// command, queue, and appconfig Store interfaces. Every interface also has
// an in-memory test double defined alongside its package; this package is
// the one production wiring, following spec.md §9's "polymorphic storage
// backends" design note.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, used to translate INSERT races into cperrors.Conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Store owns the connection pool and the schema migration.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and runs the schema migration.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Pool exposes the underlying pool for callers that need raw access (health
// checks, migrations tooling).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commands (
			command_id      TEXT PRIMARY KEY,
			deployment_hash TEXT NOT NULL,
			type            TEXT NOT NULL,
			status          TEXT NOT NULL,
			priority        TEXT NOT NULL,
			parameters      JSONB,
			result          JSONB,
			error           JSONB,
			created_by      TEXT,
			timeout_seconds INTEGER,
			metadata        JSONB,
			queued_at       TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS commands_deployment_hash_idx ON commands (deployment_hash, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			command_id      TEXT PRIMARY KEY REFERENCES commands (command_id) ON DELETE CASCADE,
			deployment_hash TEXT NOT NULL,
			priority        TEXT NOT NULL,
			queued_at       TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS queue_entries_deployment_hash_idx ON queue_entries (deployment_hash);`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id          TEXT PRIMARY KEY,
			deployment_hash   TEXT NOT NULL UNIQUE,
			base_url          TEXT NOT NULL,
			capabilities      JSONB,
			version           TEXT,
			system_info       JSONB,
			last_heartbeat_at TIMESTAMPTZ NOT NULL,
			status            TEXT NOT NULL,
			registered_at     TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS project_apps (
			id              BIGSERIAL PRIMARY KEY,
			project_id      BIGINT NOT NULL,
			code            TEXT NOT NULL,
			config_version  BIGINT NOT NULL DEFAULT 1,
			vault_synced_at TIMESTAMPTZ,
			config_hash     TEXT,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			payload         JSONB NOT NULL,
			UNIQUE (project_id, code)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
