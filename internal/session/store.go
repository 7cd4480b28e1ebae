// Package session persists bounded per-session query and source history in
// its own SQLite database, separate from the index store.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id                     TEXT PRIMARY KEY,
	created_at                     TEXT NOT NULL,
	updated_at                     TEXT NOT NULL,
	topic_tags_json                TEXT NOT NULL,
	last_n_queries_json            TEXT NOT NULL,
	last_n_selected_sources_json   TEXT NOT NULL,
	retrieval_budget_snapshot_json TEXT NOT NULL
);
`

// QueryEntry is one remembered query.
type QueryEntry struct {
	TsUTC string `json:"ts_utc"`
	Query string `json:"query"`
}

// Source is one remembered cited source (file + span).
type Source struct {
	Path      string `json:"rel_path"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
}

// Session is one bounded-history record.
type Session struct {
	ID              string         `json:"session_id"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	TopicTags       []string       `json:"topic_tags"`
	Queries         []QueryEntry   `json:"last_n_queries"`
	SelectedSources []Source       `json:"last_n_selected_sources"`
	BudgetSnapshot  map[string]any `json:"retrieval_budget_snapshot"`
}

// RWLogEntry records one session mutation for trace output.
type RWLogEntry struct {
	Op        string `json:"op"`
	SessionID string `json:"session_id"`
	TsUTC     string `json:"ts_utc"`
	Hash      string `json:"hash"`
}

// Store wraps the sessions database.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the sessions database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session: create dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("session: open db: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.conn.Close() }

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func jsonDump(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// CurrentSessionID returns the current-session pointer, or "" when unset.
func (s *Store) CurrentSessionID() (string, error) {
	var id string
	err := s.conn.QueryRow(`SELECT value FROM meta WHERE key = 'current_session_id'`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: current id: %w", err)
	}
	return id, nil
}

// SetCurrentSessionID updates the current-session pointer.
func (s *Store) SetCurrentSessionID(id string) error {
	_, err := s.conn.Exec(`
		INSERT INTO meta (key, value) VALUES ('current_session_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, id)
	if err != nil {
		return fmt.Errorf("session: set current id: %w", err)
	}
	return nil
}

// Create inserts a new session with a deterministic id built from the
// creation timestamp and a monotonic sequence number, and makes it current.
func (s *Store) Create(budget map[string]any) (*Session, error) {
	createdAt := nowISO()
	compact := strings.NewReplacer(":", "", "-", "").Replace(createdAt)

	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(1) FROM sessions`).Scan(&n); err != nil {
		return nil, fmt.Errorf("session: count: %w", err)
	}
	sid := fmt.Sprintf("s_%s_%d", compact, n+1)

	if budget == nil {
		budget = map[string]any{}
	}
	_, err := s.conn.Exec(`
		INSERT INTO sessions (
			session_id, created_at, updated_at,
			topic_tags_json, last_n_queries_json, last_n_selected_sources_json,
			retrieval_budget_snapshot_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sid, createdAt, createdAt,
		jsonDump([]string{}), jsonDump([]QueryEntry{}), jsonDump([]Source{}),
		jsonDump(budget))
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	if err := s.SetCurrentSessionID(sid); err != nil {
		return nil, err
	}
	return s.Get(sid)
}

// Get loads a session, or returns ErrUnknownSession.
func (s *Store) Get(id string) (*Session, error) {
	row := s.conn.QueryRow(`
		SELECT session_id, created_at, updated_at,
		       topic_tags_json, last_n_queries_json, last_n_selected_sources_json,
		       retrieval_budget_snapshot_json
		FROM sessions WHERE session_id = ?`, id)

	var sess Session
	var tagsJSON, queriesJSON, sourcesJSON, budgetJSON string
	err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt,
		&tagsJSON, &queriesJSON, &sourcesJSON, &budgetJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session: %s: %w", id, apperr.ErrUnknownSession)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &sess.TopicTags); err != nil {
		return nil, fmt.Errorf("session: decode topic tags: %w", err)
	}
	if err := json.Unmarshal([]byte(queriesJSON), &sess.Queries); err != nil {
		return nil, fmt.Errorf("session: decode queries: %w", err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &sess.SelectedSources); err != nil {
		return nil, fmt.Errorf("session: decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(budgetJSON), &sess.BudgetSnapshot); err != nil {
		return nil, fmt.Errorf("session: decode budget: %w", err)
	}
	return &sess, nil
}

// Ensure returns the session when it exists and otherwise creates a fresh
// one (recovery path for a dangling current-session pointer).
func (s *Store) Ensure(id string, budget map[string]any) (*Session, error) {
	sess, err := s.Get(id)
	if err == nil {
		return sess, nil
	}
	return s.Create(budget)
}

// AppendQuery appends one query to the session's bounded history, trimming
// the oldest entries past cap.
func (s *Store) AppendQuery(id, query string, cap int) (RWLogEntry, error) {
	sess, err := s.Get(id)
	if err != nil {
		return RWLogEntry{}, err
	}
	ts := nowISO()
	items := append(sess.Queries, QueryEntry{TsUTC: ts, Query: query})
	if cap > 0 && len(items) > cap {
		items = items[len(items)-cap:]
	}
	if _, err := s.conn.Exec(
		`UPDATE sessions SET last_n_queries_json = ?, updated_at = ? WHERE session_id = ?`,
		jsonDump(items), ts, id); err != nil {
		return RWLogEntry{}, fmt.Errorf("session: append query: %w", err)
	}
	return RWLogEntry{Op: "append_query", SessionID: id, TsUTC: ts, Hash: checksum.SumString(query)}, nil
}

// SetSelectedSources replaces the session's selected sources with the
// caller's list trimmed to cap (newest kept).
func (s *Store) SetSelectedSources(id string, sources []Source, cap int) (RWLogEntry, error) {
	if _, err := s.Get(id); err != nil {
		return RWLogEntry{}, err
	}
	ts := nowISO()
	items := append([]Source(nil), sources...)
	if cap > 0 && len(items) > cap {
		items = items[len(items)-cap:]
	}
	if _, err := s.conn.Exec(
		`UPDATE sessions SET last_n_selected_sources_json = ?, updated_at = ? WHERE session_id = ?`,
		jsonDump(items), ts, id); err != nil {
		return RWLogEntry{}, fmt.Errorf("session: set selected sources: %w", err)
	}
	return RWLogEntry{Op: "set_selected_sources", SessionID: id, TsUTC: ts, Hash: checksum.SumString(jsonDump(items))}, nil
}
