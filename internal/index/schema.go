// Package index provides the SQLite-backed local event store with optional
// FTS5 full-text search, archive synchronisation and the persistent cache
// backend.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	pubkey     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	d_tag      TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	content    TEXT NOT NULL DEFAULT '',
	sig        TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_author  ON events(pubkey, kind, created_at);
CREATE INDEX IF NOT EXISTS idx_events_address ON events(kind, pubkey, d_tag, created_at);
CREATE INDEX IF NOT EXISTS idx_events_source  ON events(source);

CREATE TABLE IF NOT EXISTS archive_files (
	path     TEXT PRIMARY KEY,
	checksum TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cache_values (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_meta (
	key         TEXT PRIMARY KEY,
	cached_at   INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL DEFAULT 0,
	placeholder INTEGER NOT NULL DEFAULT 0
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
