package index

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/starford/raido/internal/parser"
)

// effectiveDateSQL derives a note's effective date: the frontmatter journal
// date when present, otherwise the mtime-derived calendar date.
const effectiveDateSQL = `COALESCE(f.fm_journal_date, date(CAST(f.mtime_ns / 1000000000 AS INTEGER), 'unixepoch'))`

// FileRow represents a row in the files table.
type FileRow struct {
	ID          int64
	Path        string
	Title       string
	MtimeNs     int64
	Size        int64
	ContentHash string
	JournalDate string // YYYY-MM-DD, empty when absent
}

// HeadingRow is the subset of a headings row the chunker consumes.
type HeadingRow struct {
	ID        int64
	Level     int
	Text      string
	StartByte int
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// GetFile returns the stored row for a vault-relative path, or nil.
func (db *DB) GetFile(path string) (*FileRow, error) {
	row := db.conn.QueryRow(`
		SELECT id, rel_path, title, mtime_ns, size_bytes, content_hash, COALESCE(fm_journal_date, '')
		FROM files WHERE rel_path = ?`, path)
	var f FileRow
	err := row.Scan(&f.ID, &f.Path, &f.Title, &f.MtimeNs, &f.Size, &f.ContentHash, &f.JournalDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: get file: %w", err)
	}
	return &f, nil
}

// TouchFile updates stat metadata only, leaving all dependent rows (and
// their identities) untouched. Used when content hash is unchanged.
func (db *DB) TouchFile(id int64, mtimeNs, size int64) error {
	_, err := db.conn.Exec(
		`UPDATE files SET mtime_ns = ?, size_bytes = ?, updated_at = ? WHERE id = ?`,
		mtimeNs, size, nowISO(), id)
	if err != nil {
		return fmt.Errorf("index: touch file: %w", err)
	}
	return nil
}

// UpsertParsed atomically replaces a file's row and all of its headings,
// outlinks, and tag associations in one transaction.
func (db *DB) UpsertParsed(f FileRow, p *parser.Parsed) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := nowISO()
	_, err = tx.Exec(`
		INSERT INTO files (rel_path, title, mtime_ns, size_bytes, content_hash, fm_journal_date, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			title           = excluded.title,
			mtime_ns        = excluded.mtime_ns,
			size_bytes      = excluded.size_bytes,
			content_hash    = excluded.content_hash,
			fm_journal_date = excluded.fm_journal_date,
			updated_at      = excluded.updated_at
	`, f.Path, f.Title, f.MtimeNs, f.Size, f.ContentHash, f.JournalDate, now)
	if err != nil {
		return 0, fmt.Errorf("index: upsert file: %w", err)
	}

	var fileID int64
	if err := tx.QueryRow(`SELECT id FROM files WHERE rel_path = ?`, f.Path).Scan(&fileID); err != nil {
		return 0, fmt.Errorf("index: file id after upsert: %w", err)
	}

	if err := replaceHeadings(tx, fileID, p.Headings); err != nil {
		return 0, err
	}
	if err := replaceOutlinks(tx, fileID, p.Outlinks); err != nil {
		return 0, err
	}
	if err := replaceFileTags(tx, fileID, p.FrontmatterTags, p.InlineTags); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("index: commit upsert: %w", err)
	}
	return fileID, nil
}

func replaceHeadings(tx *sql.Tx, fileID int64, headings []parser.Heading) error {
	if _, err := tx.Exec(`DELETE FROM headings WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("index: clear headings: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO headings (file_id, ord, level, text, start_byte, end_byte)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare heading insert: %w", err)
	}
	defer stmt.Close()
	for _, h := range headings {
		if _, err := stmt.Exec(fileID, h.Ord, h.Level, h.Text, h.StartByte, h.EndByte); err != nil {
			return fmt.Errorf("index: insert heading: %w", err)
		}
	}
	return nil
}

func replaceOutlinks(tx *sql.Tx, fileID int64, outlinks []parser.Outlink) error {
	if _, err := tx.Exec(`DELETE FROM outlinks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("index: clear outlinks: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO outlinks (file_id, ord, target, section, alias, raw, start_byte, end_byte)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare outlink insert: %w", err)
	}
	defer stmt.Close()
	for _, o := range outlinks {
		if _, err := stmt.Exec(fileID, o.Ord, o.Target, o.Section, o.Alias, o.Raw, o.StartByte, o.EndByte); err != nil {
			return fmt.Errorf("index: insert outlink: %w", err)
		}
	}
	return nil
}

func replaceFileTags(tx *sql.Tx, fileID int64, frontmatter, inline []string) error {
	if _, err := tx.Exec(`DELETE FROM file_tags WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("index: clear file tags: %w", err)
	}
	insert := func(names []string, source string) error {
		for _, name := range names {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
				return fmt.Errorf("index: insert tag: %w", err)
			}
			var tagID int64
			if err := tx.QueryRow(`SELECT id FROM tags WHERE name = ?`, name).Scan(&tagID); err != nil {
				return fmt.Errorf("index: tag id: %w", err)
			}
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO file_tags (file_id, tag_id, source) VALUES (?, ?, ?)`,
				fileID, tagID, source); err != nil {
				return fmt.Errorf("index: insert file tag: %w", err)
			}
		}
		return nil
	}
	if err := insert(frontmatter, "frontmatter"); err != nil {
		return err
	}
	return insert(inline, "inline")
}

// ListPaths returns every indexed vault-relative path, sorted.
func (db *DB) ListPaths() ([]string, error) {
	rows, err := db.conn.Query(`SELECT rel_path FROM files ORDER BY rel_path`)
	if err != nil {
		return nil, fmt.Errorf("index: list paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteFilesByPath removes files and, via foreign keys, their headings,
// outlinks, tag associations, chunks, and file embeddings. Chunk embeddings
// and FTS rows left dangling by the cascade are cleaned up in the same
// transaction.
func (db *DB) DeleteFilesByPath(paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range paths {
		if _, err := tx.Exec(`DELETE FROM files WHERE rel_path = ?`, p); err != nil {
			return 0, fmt.Errorf("index: delete file %s: %w", p, err)
		}
	}
	if _, err := tx.Exec(`
		DELETE FROM chunk_embeddings
		WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.chunk_hash = chunk_embeddings.chunk_hash)`); err != nil {
		return 0, fmt.Errorf("index: gc chunk embeddings: %w", err)
	}
	if err := ftsDeleteDangling(tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("index: commit delete: %w", err)
	}
	return len(paths), nil
}

// HeadingsForFile returns a file's headings in deterministic order
// (start byte, level, text, ord) independent of row IDs.
func (db *DB) HeadingsForFile(fileID int64) ([]HeadingRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, level, text, start_byte
		FROM headings
		WHERE file_id = ?
		ORDER BY start_byte ASC, level ASC, text ASC, ord ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("index: headings for file: %w", err)
	}
	defer rows.Close()
	var out []HeadingRow
	for rows.Next() {
		var h HeadingRow
		if err := rows.Scan(&h.ID, &h.Level, &h.Text, &h.StartByte); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AllowedFileIDsByTags resolves the tag filter to a set of file IDs.
// A nil result means "no restriction"; an empty non-nil result means the
// filter matched nothing.
func (db *DB) AllowedFileIDsByTags(tags []string, tagOR bool) ([]int64, error) {
	var clean []string
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimLeft(t, "#"))
		if t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(clean)+1)
	for _, t := range clean {
		args = append(args, t)
	}

	var q string
	if tagOR {
		q = fmt.Sprintf(`
			SELECT DISTINCT ft.file_id
			FROM file_tags ft
			JOIN tags t ON t.id = ft.tag_id
			WHERE t.name IN (%s)
			ORDER BY ft.file_id ASC`, placeholders(len(clean)))
	} else {
		q = fmt.Sprintf(`
			SELECT ft.file_id
			FROM file_tags ft
			JOIN tags t ON t.id = ft.tag_id
			WHERE t.name IN (%s)
			GROUP BY ft.file_id
			HAVING COUNT(DISTINCT t.name) = ?
			ORDER BY ft.file_id ASC`, placeholders(len(clean)))
		args = append(args, len(clean))
	}

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: allowed file ids: %w", err)
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ChunkHashesForFilters returns the chunk hashes inside the allowed
// file/date universe. A nil result means "no restriction"; empty non-nil
// means nothing is allowed.
func (db *DB) ChunkHashesForFilters(allowedFileIDs []int64, dateFrom, dateTo string) ([]string, error) {
	if allowedFileIDs == nil && dateFrom == "" && dateTo == "" {
		return nil, nil
	}

	var where []string
	var args []any
	if allowedFileIDs != nil {
		if len(allowedFileIDs) == 0 {
			return []string{}, nil
		}
		where = append(where, fmt.Sprintf("file_id IN (%s)", placeholders(len(allowedFileIDs))))
		for _, id := range allowedFileIDs {
			args = append(args, id)
		}
	}
	if dateFrom != "" {
		where = append(where, "effective_date >= ?")
		args = append(args, dateFrom)
	}
	if dateTo != "" {
		where = append(where, "effective_date <= ?")
		args = append(args, dateTo)
	}

	q := fmt.Sprintf(`
		WITH base AS (
			SELECT c.chunk_hash AS chunk_hash, %s AS effective_date, f.id AS file_id
			FROM chunks c
			JOIN files f ON f.id = c.file_id
		)
		SELECT chunk_hash FROM base
		WHERE %s
		ORDER BY chunk_hash ASC`, effectiveDateSQL, strings.Join(where, " AND "))

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: chunk hashes for filters: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ChunkRef identifies a chunk with the metadata search results carry.
type ChunkRef struct {
	FileID        int64
	Path          string
	Title         string
	MtimeNs       int64
	EffectiveDate string
	ChunkID       string
	ChunkHash     string
	HeadingPath   string
	StartByte     int
	EndByte       int
}

// ChunkRefsByHashes loads chunk metadata for the given chunk hashes in
// deterministic (path, ord, start byte) order.
func (db *DB) ChunkRefsByHashes(hashes []string) ([]ChunkRef, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}
	q := fmt.Sprintf(`
		SELECT c.file_id, f.rel_path, f.title, f.mtime_ns, %s,
		       c.chunk_id, c.chunk_hash, c.heading_path, c.start_byte, c.end_byte
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE c.chunk_hash IN (%s)
		ORDER BY f.rel_path ASC, c.ord ASC, c.start_byte ASC`,
		effectiveDateSQL, placeholders(len(hashes)))

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: chunk refs by hashes: %w", err)
	}
	defer rows.Close()
	var out []ChunkRef
	for rows.Next() {
		var c ChunkRef
		if err := rows.Scan(&c.FileID, &c.Path, &c.Title, &c.MtimeNs, &c.EffectiveDate,
			&c.ChunkID, &c.ChunkHash, &c.HeadingPath, &c.StartByte, &c.EndByte); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Neighbor is a 1-hop link-graph neighbor of a primary result set.
type Neighbor struct {
	FileID        int64
	Path          string
	Title         string
	MtimeNs       int64
	EffectiveDate string
}

// ExpansionNeighbors returns up to cap files reachable from the given files
// via outlinks or backlinks (targets matched against file titles), ordered
// by mtime descending then path ascending. The primary files themselves are
// excluded.
func (db *DB) ExpansionNeighbors(fileIDs []int64, cap int) ([]Neighbor, error) {
	if len(fileIDs) == 0 || cap <= 0 {
		return nil, nil
	}
	ph := placeholders(len(fileIDs))
	args := make([]any, 0, len(fileIDs)*3+1)
	for i := 0; i < 3; i++ {
		for _, id := range fileIDs {
			args = append(args, id)
		}
	}
	args = append(args, cap)

	q := fmt.Sprintf(`
		WITH primary_files AS (
			SELECT id, title FROM files WHERE id IN (%s)
		),
		outlink_targets AS (
			SELECT DISTINCT o.target AS target FROM outlinks o WHERE o.file_id IN (%s)
		),
		backlink_files AS (
			SELECT DISTINCT o.file_id AS file_id
			FROM outlinks o
			JOIN primary_files pf ON pf.title = o.target
		),
		outlink_files AS (
			SELECT DISTINCT f.id AS file_id
			FROM files f
			JOIN outlink_targets t ON t.target = f.title
		),
		neighbors AS (
			SELECT file_id FROM backlink_files
			UNION
			SELECT file_id FROM outlink_files
		)
		SELECT f.id, f.rel_path, f.title, f.mtime_ns, %s
		FROM files f
		JOIN neighbors n ON n.file_id = f.id
		WHERE f.id NOT IN (%s)
		ORDER BY f.mtime_ns DESC, f.rel_path ASC
		LIMIT ?`, ph, ph, effectiveDateSQL, ph)

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: expansion neighbors: %w", err)
	}
	defer rows.Close()
	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.FileID, &n.Path, &n.Title, &n.MtimeNs, &n.EffectiveDate); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ChunkSpan is the span-level view of one chunk.
type ChunkSpan struct {
	HeadingPath string
	StartByte   int
	EndByte     int
}

// RepresentativeChunk returns the chunk with the given ordinal, falling back
// to the file's first chunk, or nil when the file has no chunks.
func (db *DB) RepresentativeChunk(fileID int64, ord int) (*ChunkSpan, error) {
	var c ChunkSpan
	err := db.conn.QueryRow(`
		SELECT heading_path, start_byte, end_byte
		FROM chunks
		WHERE file_id = ? AND ord = ?
		ORDER BY start_byte ASC
		LIMIT 1`, fileID, ord).Scan(&c.HeadingPath, &c.StartByte, &c.EndByte)
	if err == sql.ErrNoRows {
		err = db.conn.QueryRow(`
			SELECT heading_path, start_byte, end_byte
			FROM chunks
			WHERE file_id = ?
			ORDER BY ord ASC, start_byte ASC
			LIMIT 1`, fileID).Scan(&c.HeadingPath, &c.StartByte, &c.EndByte)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: representative chunk: %w", err)
	}
	return &c, nil
}

// FileIDByPath resolves a vault-relative path to its row ID; 0 when absent.
func (db *DB) FileIDByPath(path string) (int64, error) {
	var id int64
	err := db.conn.QueryRow(`SELECT id FROM files WHERE rel_path = ?`, path).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index: file id by path: %w", err)
	}
	return id, nil
}

// LookupChunkRef resolves a (path, span) citation to a live chunk, or nil
// when the file or exact span no longer exists in the index.
func (db *DB) LookupChunkRef(path string, startByte, endByte int) (*ChunkRef, error) {
	q := fmt.Sprintf(`
		SELECT c.file_id, f.rel_path, f.title, f.mtime_ns, %s,
		       c.chunk_id, c.chunk_hash, c.heading_path, c.start_byte, c.end_byte
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE f.rel_path = ? AND c.start_byte = ? AND c.end_byte = ?
		LIMIT 1`, effectiveDateSQL)
	var c ChunkRef
	err := db.conn.QueryRow(q, path, startByte, endByte).Scan(
		&c.FileID, &c.Path, &c.Title, &c.MtimeNs, &c.EffectiveDate,
		&c.ChunkID, &c.ChunkHash, &c.HeadingPath, &c.StartByte, &c.EndByte)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: lookup chunk ref: %w", err)
	}
	return &c, nil
}

// Backlinks returns the paths of files whose outlinks target the given
// note title, sorted by path.
func (db *DB) Backlinks(title string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT DISTINCT f.rel_path
		FROM outlinks o
		JOIN files f ON f.id = o.file_id
		WHERE o.target = ?
		ORDER BY f.rel_path ASC`, title)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasFiles reports whether indexing has ever populated the store.
func (db *DB) HasFiles() (bool, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(1) FROM files`).Scan(&n); err != nil {
		return false, fmt.Errorf("index: has files: %w", err)
	}
	return n > 0, nil
}

// HasChunks reports whether an embed run has ever produced chunks.
func (db *DB) HasChunks() (bool, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(1) FROM chunks`).Scan(&n); err != nil {
		return false, fmt.Errorf("index: has chunks: %w", err)
	}
	return n > 0, nil
}
