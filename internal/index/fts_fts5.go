//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

const ftsSchemaSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
	chunk_id UNINDEXED,
	chunk_hash UNINDEXED,
	rel_path UNINDEXED,
	heading_path,
	content
);
`

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(ftsSchemaSQL)
	return err
}

// ftsDeleteDangling removes FTS rows whose (chunk_id, chunk_hash) pair no
// longer exists in chunks. Run inside the caller's transaction.
func ftsDeleteDangling(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DELETE FROM chunk_fts
		WHERE NOT EXISTS (
			SELECT 1 FROM chunks c
			WHERE c.chunk_id = chunk_fts.chunk_id AND c.chunk_hash = chunk_fts.chunk_hash
		)`)
	if err != nil {
		return fmt.Errorf("index: fts delete dangling: %w", err)
	}
	return nil
}

// RebuildChunkFTS incrementally reconciles the FTS table with the chunks
// table: stale rows (changed content or deleted chunk) are dropped, missing
// chunks are inserted with their text read from the vault via textOf.
func (db *DB) RebuildChunkFTS(textOf func(relPath string) ([]byte, error)) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin fts rebuild: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDeleteDangling(tx); err != nil {
		return err
	}

	rows, err := tx.Query(`
		SELECT c.chunk_id, c.chunk_hash, f.rel_path, c.heading_path, c.start_byte, c.end_byte
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE NOT EXISTS (SELECT 1 FROM chunk_fts x WHERE x.chunk_id = c.chunk_id)
		ORDER BY f.rel_path ASC, c.ord ASC, c.start_byte ASC`)
	if err != nil {
		return fmt.Errorf("index: fts missing chunks: %w", err)
	}

	type pending struct {
		chunkID, chunkHash, relPath, headingPath string
		start, end                               int
	}
	var missing []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.chunkID, &p.chunkHash, &p.relPath, &p.headingPath, &p.start, &p.end); err != nil {
			rows.Close()
			return err
		}
		missing = append(missing, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	content := map[string][]byte{}
	for _, p := range missing {
		data, ok := content[p.relPath]
		if !ok {
			data, err = textOf(p.relPath)
			if err != nil {
				return fmt.Errorf("index: fts read %s: %w", p.relPath, err)
			}
			content[p.relPath] = data
		}
		if p.start > len(data) || p.end > len(data) || p.start > p.end {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO chunk_fts (chunk_id, chunk_hash, rel_path, heading_path, content)
			VALUES (?, ?, ?, ?, ?)`,
			p.chunkID, p.chunkHash, p.relPath, p.headingPath, string(data[p.start:p.end])); err != nil {
			return fmt.Errorf("index: fts insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit fts rebuild: %w", err)
	}
	return nil
}

// ftsPhrase quotes the whole query as a single FTS5 phrase so user input is
// never interpreted as match syntax.
func ftsPhrase(query string) string {
	q := strings.TrimSpace(query)
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

// SearchChunksLexical runs a BM25-ranked phrase search over chunk text with
// the tag and date filters applied before the limit.
func (db *DB) SearchChunksLexical(lq LexicalQuery) ([]LexicalRow, error) {
	if lq.Limit <= 0 {
		return nil, nil
	}
	where := []string{"chunk_fts MATCH ?"}
	args := []any{ftsPhrase(lq.Query)}

	if lq.AllowedFileIDs != nil {
		if len(lq.AllowedFileIDs) == 0 {
			return nil, nil
		}
		where = append(where, fmt.Sprintf("f.id IN (%s)", placeholders(len(lq.AllowedFileIDs))))
		for _, id := range lq.AllowedFileIDs {
			args = append(args, id)
		}
	}
	if lq.DateFrom != "" {
		where = append(where, "effective_date >= ?")
		args = append(args, lq.DateFrom)
	}
	if lq.DateTo != "" {
		where = append(where, "effective_date <= ?")
		args = append(args, lq.DateTo)
	}
	args = append(args, lq.Limit)

	q := fmt.Sprintf(`
		WITH candidates AS (
			SELECT
				c.file_id AS file_id,
				f.rel_path AS rel_path,
				f.title AS title,
				f.mtime_ns AS mtime_ns,
				%s AS effective_date,
				c.chunk_id AS chunk_id,
				c.chunk_hash AS chunk_hash,
				c.heading_path AS heading_path,
				c.start_byte AS start_byte,
				c.end_byte AS end_byte,
				bm25(chunk_fts) AS rank
			FROM chunk_fts
			JOIN chunks c ON c.chunk_id = chunk_fts.chunk_id
			JOIN files f ON f.id = c.file_id
			WHERE %s
		)
		SELECT * FROM candidates
		ORDER BY rank ASC, mtime_ns DESC, rel_path ASC, start_byte ASC
		LIMIT ?`, effectiveDateSQL, strings.Join(where, " AND "))

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: fts search: %w", err)
	}
	defer rows.Close()

	var out []LexicalRow
	for rows.Next() {
		var r LexicalRow
		var rank float64
		if err := rows.Scan(&r.FileID, &r.Path, &r.Title, &r.MtimeNs, &r.EffectiveDate,
			&r.ChunkID, &r.ChunkHash, &r.HeadingPath, &r.StartByte, &r.EndByte, &rank); err != nil {
			return nil, err
		}
		r.Raw = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}
