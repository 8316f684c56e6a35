// Package store provides the local SQLite database of the assistant. It
// keeps conversation history per session, a durable copy of the response
// cache, and a snapshot of ingested documents and passages used to hydrate
// the in-memory passage store at startup.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is backed by a local SQLite database. It is safe for
// concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the local database.
// It resolves to ~/.primaria/primaria.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".primaria")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "primaria.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS conversations (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    tenant_id    TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_conversations_session
    ON conversations (session_id, id);

CREATE TABLE IF NOT EXISTS cache_entries (
    id           TEXT    PRIMARY KEY,
    tenant_id    TEXT    NOT NULL,
    question     TEXT    NOT NULL,
    normalized   TEXT    NOT NULL,
    embedding    BLOB    NOT NULL,
    answer       TEXT    NOT NULL,
    citations    TEXT    NOT NULL DEFAULT '[]',
    confidence   REAL    NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL, -- Unix nanoseconds
    expires_at   INTEGER NOT NULL,
    hit_count    INTEGER NOT NULL DEFAULT 0,
    last_access  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_tenant
    ON cache_entries (tenant_id);

CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    name         TEXT    NOT NULL,
    category     TEXT    NOT NULL DEFAULT '',
    processed    INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS document_tenants (
    document_id  TEXT    NOT NULL,
    tenant_id    TEXT    NOT NULL,
    PRIMARY KEY (document_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS passages (
    id           TEXT    PRIMARY KEY,
    document_id  TEXT    NOT NULL,
    tenant_id    TEXT    NOT NULL,
    ordinal      INTEGER NOT NULL,
    content      TEXT    NOT NULL,
    embedding    BLOB,
    page_number  INTEGER,
    metadata     TEXT    NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_passages_document
    ON passages (document_id, tenant_id, ordinal);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Name identifies the store in readiness probes.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
