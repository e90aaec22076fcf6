// Package index provides the SQLite-backed build index: published
// diagnostics, per-document build status and an outline symbol table with
// optional FTS5 search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL DEFAULT 'script',
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
	document  TEXT NOT NULL,
	kind      TEXT NOT NULL,
	name      TEXT NOT NULL,
	container TEXT NOT NULL DEFAULT '',
	line      INTEGER NOT NULL,
	character INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_symbols_document ON symbols(document);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS diagnostic_sets (
	document   TEXT PRIMARY KEY,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS diagnostics (
	document        TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	start_line      INTEGER NOT NULL,
	start_character INTEGER NOT NULL,
	end_line        INTEGER NOT NULL,
	end_character   INTEGER NOT NULL,
	severity        TEXT NOT NULL,
	message         TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document, seq)
);

CREATE TABLE IF NOT EXISTS builds (
	document    TEXT PRIMARY KEY,
	version     INTEGER NOT NULL DEFAULT 0,
	run_id      TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	diagnostics INTEGER NOT NULL DEFAULT 0,
	includes    TEXT NOT NULL DEFAULT '[]',
	emitted     TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	compiled_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
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
