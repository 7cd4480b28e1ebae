package embed

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Record is one chunk embedding ready for storage.
type Record struct {
	ChunkHash string
	Model     string
	Dim       int
	Vector    []byte
}

// VectorHit is one result from the vector search leg. Raw is cosine
// similarity, higher is better.
type VectorHit struct {
	ChunkHash string
	Raw       float64
}

// Store persists chunk embeddings in the index database and serves
// brute-force cosine similarity search over them.
type Store struct {
	conn *sql.DB
}

// NewStore wraps the index database connection.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// ExistingChunkHashes reports which of the given hashes already have a
// stored vector for (model, dim).
func (s *Store) ExistingChunkHashes(hashes []string, model string, dim int) (map[string]struct{}, error) {
	if len(hashes) == 0 {
		return map[string]struct{}{}, nil
	}
	args := make([]any, 0, len(hashes)+2)
	args = append(args, model, dim)
	marks := make([]string, len(hashes))
	for i, h := range hashes {
		marks[i] = "?"
		args = append(args, h)
	}
	rows, err := s.conn.Query(fmt.Sprintf(
		`SELECT chunk_hash FROM chunk_embeddings WHERE model = ? AND dim = ? AND chunk_hash IN (%s)`,
		strings.Join(marks, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("embed: existing chunk hashes: %w", err)
	}
	defer rows.Close()
	out := map[string]struct{}{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = struct{}{}
	}
	return out, rows.Err()
}

// Upsert stores the given vectors, replacing any previous ones.
func (s *Store) Upsert(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("embed: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO chunk_embeddings (chunk_hash, model, dim, vector, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("embed: prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		if _, err := stmt.Exec(r.ChunkHash, r.Model, r.Dim, r.Vector, now); err != nil {
			return fmt.Errorf("embed: upsert vector: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("embed: commit upsert: %w", err)
	}
	return nil
}

// DeleteDangling removes vectors for (model, dim) whose chunk no longer
// exists and returns the number deleted.
func (s *Store) DeleteDangling(model string, dim int) (int, error) {
	res, err := s.conn.Exec(`
		DELETE FROM chunk_embeddings
		WHERE model = ? AND dim = ?
		  AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.chunk_hash = chunk_embeddings.chunk_hash)`,
		model, dim)
	if err != nil {
		return 0, fmt.Errorf("embed: delete dangling: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("embed: delete dangling rows affected: %w", err)
	}
	return int(n), nil
}

// Search computes cosine similarity between the query vector and every
// stored chunk vector for (model, dim), optionally restricted to an
// allow-set of chunk hashes. Results are ordered by similarity descending
// with chunk hash ascending as the tie-break.
func (s *Store) Search(query []byte, model string, dim, limit int, allow map[string]struct{}) ([]VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	qVals, err := DecodeFloat32LE(query, dim)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(
		`SELECT chunk_hash, vector FROM chunk_embeddings WHERE model = ? AND dim = ?`,
		model, dim)
	if err != nil {
		return nil, fmt.Errorf("embed: vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, err
		}
		if allow != nil {
			if _, ok := allow[hash]; !ok {
				continue
			}
		}
		vals, err := DecodeFloat32LE(blob, dim)
		if err != nil {
			return nil, err
		}
		hits = append(hits, VectorHit{ChunkHash: hash, Raw: cosine(qVals, vals)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Raw != hits[j].Raw {
			return hits[i].Raw > hits[j].Raw
		}
		return hits[i].ChunkHash < hits[j].ChunkHash
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
