package index

import (
	"database/sql"
	"fmt"
)

// ChunkRowInput is one planned chunk ready to persist.
type ChunkRowInput struct {
	HeadingID   int64 // 0 for preamble chunks without a heading
	HeadingPath string
	Ord         int
	StartByte   int
	EndByte     int
	TextHash    string
	ChunkID     string
	ChunkHash   string
}

// GetChunkPlan returns the stored chunk plan hash for a file, or "" when the
// file has never been chunked.
func (db *DB) GetChunkPlan(fileID int64) (string, error) {
	var h string
	err := db.conn.QueryRow(`SELECT chunk_plan_hash FROM chunk_state WHERE file_id = ?`, fileID).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get chunk plan: %w", err)
	}
	return h, nil
}

// ReplaceChunks atomically replaces a file's chunk rows and records the plan
// hash that produced them.
func (db *DB) ReplaceChunks(fileID int64, planHash string, chunks []ChunkRowInput) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("index: clear chunks: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO chunks (file_id, heading_id, heading_path, ord, start_byte, end_byte,
		                    text_hash, chunk_id, chunk_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := nowISO()
	for _, c := range chunks {
		var headingID any
		if c.HeadingID != 0 {
			headingID = c.HeadingID
		}
		if _, err := stmt.Exec(fileID, headingID, c.HeadingPath, c.Ord, c.StartByte, c.EndByte,
			c.TextHash, c.ChunkID, c.ChunkHash, now); err != nil {
			return fmt.Errorf("index: insert chunk: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO chunk_state (file_id, chunk_plan_hash, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			chunk_plan_hash = excluded.chunk_plan_hash,
			updated_at      = excluded.updated_at`, fileID, planHash, now); err != nil {
		return fmt.Errorf("index: upsert chunk state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit chunks: %w", err)
	}
	return nil
}

// ListFiles returns every indexed file sorted by path.
func (db *DB) ListFiles() ([]FileRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, rel_path, title, mtime_ns, size_bytes, content_hash, COALESCE(fm_journal_date, '')
		FROM files ORDER BY rel_path ASC`)
	if err != nil {
		return nil, fmt.Errorf("index: list files: %w", err)
	}
	defer rows.Close()
	var out []FileRow
	for rows.Next() {
		var f FileRow
		if err := rows.Scan(&f.ID, &f.Path, &f.Title, &f.MtimeNs, &f.Size, &f.ContentHash, &f.JournalDate); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ChunkForEmbed is the slice of chunk metadata the embedding runner needs.
type ChunkForEmbed struct {
	FileID    int64
	RelPath   string
	Ord       int
	StartByte int
	EndByte   int
	ChunkID   string
	ChunkHash string
}

// ChunksForFile returns a file's chunks in ordinal order.
func (db *DB) ChunksForFile(fileID int64) ([]ChunkForEmbed, error) {
	rows, err := db.conn.Query(`
		SELECT c.file_id, f.rel_path, c.ord, c.start_byte, c.end_byte, c.chunk_id, c.chunk_hash
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE c.file_id = ?
		ORDER BY c.ord ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("index: chunks for file: %w", err)
	}
	defer rows.Close()
	var out []ChunkForEmbed
	for rows.Next() {
		var c ChunkForEmbed
		if err := rows.Scan(&c.FileID, &c.RelPath, &c.Ord, &c.StartByte, &c.EndByte, &c.ChunkID, &c.ChunkHash); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
