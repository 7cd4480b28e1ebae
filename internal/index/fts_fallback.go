//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Without the sqlite_fts5 build tag the lexical leg degrades to a Go-side
// case-insensitive phrase scan over chunk text. Ranking quality drops but
// filters and tie-break ordering stay identical to the FTS5 build.

func initFTS(conn *sql.DB) error {
	_ = conn
	return nil
}

func ftsDeleteDangling(tx *sql.Tx) error {
	_ = tx
	return nil
}

// RebuildChunkFTS is a no-op in the fallback build; the scan search reads
// chunk text directly from the vault.
func (db *DB) RebuildChunkFTS(textOf func(relPath string) ([]byte, error)) error {
	_ = textOf
	return nil
}

// SearchChunksLexical scans every allowed chunk, scoring by phrase
// occurrence count. Ordering matches the FTS5 build: score descending, then
// mtime descending, path ascending, start byte ascending.
func (db *DB) SearchChunksLexical(lq LexicalQuery) ([]LexicalRow, error) {
	phrase := strings.ToLower(strings.TrimSpace(lq.Query))
	if phrase == "" || lq.Limit <= 0 {
		return nil, nil
	}

	where := []string{"1=1"}
	var args []any
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
		where = append(where, effectiveDateSQL+" >= ?")
		args = append(args, lq.DateFrom)
	}
	if lq.DateTo != "" {
		where = append(where, effectiveDateSQL+" <= ?")
		args = append(args, lq.DateTo)
	}

	q := fmt.Sprintf(`
		SELECT c.file_id, f.rel_path, f.title, f.mtime_ns, %s,
		       c.chunk_id, c.chunk_hash, c.heading_path, c.start_byte, c.end_byte
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE %s
		ORDER BY f.rel_path ASC, c.start_byte ASC`, effectiveDateSQL, strings.Join(where, " AND "))

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: lexical scan: %w", err)
	}
	defer rows.Close()

	var hits []LexicalRow
	content := map[string][]byte{}
	for rows.Next() {
		var r LexicalRow
		if err := rows.Scan(&r.FileID, &r.Path, &r.Title, &r.MtimeNs, &r.EffectiveDate,
			&r.ChunkID, &r.ChunkHash, &r.HeadingPath, &r.StartByte, &r.EndByte); err != nil {
			return nil, err
		}
		data, ok := content[r.Path]
		if !ok {
			var err error
			data, err = lq.TextOf(r.Path)
			if err != nil {
				return nil, fmt.Errorf("index: lexical read %s: %w", r.Path, err)
			}
			content[r.Path] = data
		}
		if r.StartByte > len(data) || r.EndByte > len(data) || r.StartByte > r.EndByte {
			continue
		}
		n := strings.Count(strings.ToLower(string(data[r.StartByte:r.EndByte])), phrase)
		if n == 0 {
			continue
		}
		r.Raw = float64(n)
		hits = append(hits, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Raw != b.Raw {
			return a.Raw > b.Raw
		}
		if a.MtimeNs != b.MtimeNs {
			return a.MtimeNs > b.MtimeNs
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.StartByte < b.StartByte
	})
	if len(hits) > lq.Limit {
		hits = hits[:lq.Limit]
	}
	return hits, nil
}
