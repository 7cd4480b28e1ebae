// Package index provides the SQLite-backed vault index: files, headings,
// outlinks, tags, chunks, embeddings, and full-text search over chunk text.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS files (
	id              INTEGER PRIMARY KEY,
	rel_path        TEXT UNIQUE NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	mtime_ns        INTEGER NOT NULL,
	size_bytes      INTEGER NOT NULL,
	content_hash    TEXT NOT NULL,
	fm_journal_date TEXT,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS headings (
	id         INTEGER PRIMARY KEY,
	file_id    INTEGER NOT NULL,
	ord        INTEGER NOT NULL,
	level      INTEGER NOT NULL,
	text       TEXT NOT NULL,
	start_byte INTEGER NOT NULL,
	end_byte   INTEGER NOT NULL,
	FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS outlinks (
	id         INTEGER PRIMARY KEY,
	file_id    INTEGER NOT NULL,
	ord        INTEGER NOT NULL,
	target     TEXT NOT NULL,
	section    TEXT NOT NULL DEFAULT '',
	alias      TEXT NOT NULL DEFAULT '',
	raw        TEXT NOT NULL,
	start_byte INTEGER NOT NULL,
	end_byte   INTEGER NOT NULL,
	FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS file_tags (
	file_id INTEGER NOT NULL,
	tag_id  INTEGER NOT NULL,
	source  TEXT NOT NULL,
	PRIMARY KEY(file_id, tag_id, source),
	FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE,
	FOREIGN KEY(tag_id)  REFERENCES tags(id)  ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chunks (
	id           INTEGER PRIMARY KEY,
	file_id      INTEGER NOT NULL,
	heading_id   INTEGER,
	heading_path TEXT NOT NULL DEFAULT '',
	ord          INTEGER NOT NULL,
	start_byte   INTEGER NOT NULL,
	end_byte     INTEGER NOT NULL,
	text_hash    TEXT NOT NULL,
	chunk_id     TEXT UNIQUE NOT NULL,
	chunk_hash   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chunk_state (
	file_id         INTEGER PRIMARY KEY,
	chunk_plan_hash TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	chunk_hash TEXT NOT NULL,
	model      TEXT NOT NULL,
	dim        INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY(chunk_hash, model, dim)
);

CREATE TABLE IF NOT EXISTS file_embeddings (
	file_id       INTEGER NOT NULL,
	model         TEXT NOT NULL,
	dim           INTEGER NOT NULL,
	vector        BLOB NOT NULL,
	file_vec_hash TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY(file_id, model),
	FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_headings_file_id   ON headings(file_id);
CREATE INDEX IF NOT EXISTS idx_outlinks_file_id   ON outlinks(file_id);
CREATE INDEX IF NOT EXISTS idx_outlinks_target    ON outlinks(target);
CREATE INDEX IF NOT EXISTS idx_file_tags_tag_id   ON file_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_chunks_file_ord    ON chunks(file_id, ord);
CREATE INDEX IF NOT EXISTS idx_chunks_chunk_hash  ON chunks(chunk_hash);
CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_model ON chunk_embeddings(model);
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

// Conn exposes the underlying connection for store-level extensions
// (vector store, session-pin lookups).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
