package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/chunker"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/vault"
)

// Summary reports what one embed run did.
type Summary struct {
	FilesConsidered int `json:"files_considered"`
	FilesRechunked  int `json:"files_rechunked"`
	ChunksUpserted  int `json:"chunks_upserted"`
	ChunksEmbedded  int `json:"chunks_embedded"`
	FilesEmbedded   int `json:"files_embedded"`
	DanglingDeleted int `json:"dangling_deleted"`
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// Full discards all chunk state and re-chunks everything.
	Full bool
	// Limit caps how many missing chunk embeddings are computed this run;
	// 0 means no limit.
	Limit int
}

// Runner re-chunks changed files, embeds missing chunks, maintains file
// vectors, and keeps the lexical index in sync.
type Runner struct {
	fs       *vault.FS
	db       *index.DB
	store    *Store
	provider Provider
	cfg      chunker.Config
	model    string
	logger   *slog.Logger
}

// NewRunner wires the embedding pipeline together.
func NewRunner(fs *vault.FS, db *index.DB, provider Provider, cfg chunker.Config, model string, logger *slog.Logger) *Runner {
	return &Runner{
		fs:       fs,
		db:       db,
		store:    NewStore(db.Conn()),
		provider: provider,
		cfg:      cfg,
		model:    model,
		logger:   logger,
	}
}

// Run executes one embed pass: plan hashes are recomputed per file, only
// files whose plan changed are re-chunked, only chunks without a stored
// vector are embedded, and file vectors are refreshed where their chunk
// composition changed.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	var sum Summary
	dim := r.provider.Dim()

	if opts.Full {
		if err := r.reset(); err != nil {
			return sum, err
		}
	}

	files, err := r.db.ListFiles()
	if err != nil {
		return sum, err
	}

	rechunked := map[int64]struct{}{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.FilesConsidered++

		headings, err := r.db.HeadingsForFile(f.ID)
		if err != nil {
			return sum, err
		}
		chs := make([]chunker.Heading, len(headings))
		for i, h := range headings {
			chs[i] = chunker.Heading{ID: h.ID, Level: h.Level, Text: h.Text, StartByte: h.StartByte}
		}
		planHash := chunker.PlanHash(f.ContentHash, chunker.HeadingsSignature(chs), r.cfg, r.model, dim)

		stored, err := r.db.GetChunkPlan(f.ID)
		if err != nil {
			return sum, err
		}
		if stored == planHash && !opts.Full {
			continue
		}

		data, err := r.fs.Read(f.Path)
		if err != nil {
			return sum, err
		}
		planned, err := chunker.Plan(f.Path, data, chs, r.cfg, r.model)
		if err != nil {
			return sum, err
		}

		rowsIn := make([]index.ChunkRowInput, len(planned))
		for i, c := range planned {
			rowsIn[i] = index.ChunkRowInput{
				HeadingID:   c.HeadingID,
				HeadingPath: c.HeadingPath,
				Ord:         c.Ord,
				StartByte:   c.StartByte,
				EndByte:     c.EndByte,
				TextHash:    c.TextHash,
				ChunkID:     c.ChunkID,
				ChunkHash:   c.ChunkHash,
			}
		}
		if err := r.db.ReplaceChunks(f.ID, planHash, rowsIn); err != nil {
			return sum, err
		}
		rechunked[f.ID] = struct{}{}
		sum.FilesRechunked++
		sum.ChunksUpserted += len(planned)
	}

	affected, embedded, err := r.embedMissing(ctx, files, dim, opts.Limit)
	if err != nil {
		return sum, err
	}
	sum.ChunksEmbedded = embedded
	for id := range rechunked {
		affected[id] = struct{}{}
	}

	filesEmbedded, err := r.refreshFileVectors(ctx, affected, dim)
	if err != nil {
		return sum, err
	}
	sum.FilesEmbedded = filesEmbedded

	deleted, err := r.store.DeleteDangling(r.model, dim)
	if err != nil {
		return sum, err
	}
	sum.DanglingDeleted = deleted

	if err := r.db.RebuildChunkFTS(r.fs.Read); err != nil {
		return sum, err
	}

	r.logger.Info("embed run complete",
		slog.Int("files_considered", sum.FilesConsidered),
		slog.Int("files_rechunked", sum.FilesRechunked),
		slog.Int("chunks_upserted", sum.ChunksUpserted),
		slog.Int("chunks_embedded", sum.ChunksEmbedded),
		slog.Int("files_embedded", sum.FilesEmbedded),
		slog.Int("dangling_deleted", sum.DanglingDeleted))
	return sum, nil
}

func (r *Runner) reset() error {
	conn := r.db.Conn()
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("embed: begin reset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, q := range []string{
		`DELETE FROM chunks`,
		`DELETE FROM chunk_state`,
		`DELETE FROM file_embeddings WHERE model = ?`,
	} {
		if strings.Contains(q, "?") {
			_, err = tx.Exec(q, r.model)
		} else {
			_, err = tx.Exec(q)
		}
		if err != nil {
			return fmt.Errorf("embed: reset: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("embed: commit reset: %w", err)
	}
	return nil
}

// embedMissing computes vectors for chunks without one, in deterministic
// (path, ordinal) order, honoring the optional limit. It returns the set of
// file IDs whose chunks were embedded.
func (r *Runner) embedMissing(ctx context.Context, files []index.FileRow, dim, limit int) (map[int64]struct{}, int, error) {
	affected := map[int64]struct{}{}

	type chunkRef struct {
		fileID     int64
		relPath    string
		start, end int
		chunkHash  string
	}
	var all []chunkRef
	for _, f := range files {
		chunks, err := r.db.ChunksForFile(f.ID)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range chunks {
			all = append(all, chunkRef{f.ID, c.RelPath, c.StartByte, c.EndByte, c.ChunkHash})
		}
	}

	hashes := make([]string, len(all))
	for i, c := range all {
		hashes[i] = c.chunkHash
	}
	existing, err := r.store.ExistingChunkHashes(hashes, r.model, dim)
	if err != nil {
		return nil, 0, err
	}

	var missing []chunkRef
	for _, c := range all {
		if _, ok := existing[c.chunkHash]; !ok {
			missing = append(missing, c)
		}
	}
	if limit > 0 && len(missing) > limit {
		missing = missing[:limit]
	}

	var records []Record
	content := map[string][]byte{}
	for _, c := range missing {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		data, ok := content[c.relPath]
		if !ok {
			data, err = r.fs.Read(c.relPath)
			if err != nil {
				return nil, 0, err
			}
			content[c.relPath] = data
		}
		if c.start > len(data) || c.end > len(data) || c.start > c.end {
			continue
		}
		chunk := data[c.start:c.end]
		if !utf8.Valid(chunk) {
			return nil, 0, fmt.Errorf("embed: invalid UTF-8 in %s bytes[%d:%d]", c.relPath, c.start, c.end)
		}
		vector, err := r.provider.EmbedText(string(chunk))
		if err != nil {
			return nil, 0, err
		}
		records = append(records, Record{ChunkHash: c.chunkHash, Model: r.model, Dim: dim, Vector: vector})
		affected[c.fileID] = struct{}{}
	}

	if err := r.store.Upsert(records); err != nil {
		return nil, 0, err
	}
	return affected, len(records), nil
}

// refreshFileVectors recomputes the byte-length-weighted mean vector for
// each affected file whose chunk composition hash changed and whose chunk
// embeddings are all present.
func (r *Runner) refreshFileVectors(ctx context.Context, affected map[int64]struct{}, dim int) (int, error) {
	conn := r.db.Conn()
	ids := make([]int64, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	updated := 0
	for _, fileID := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		chunks, err := r.db.ChunksForFile(fileID)
		if err != nil {
			return updated, err
		}
		if len(chunks) == 0 {
			continue
		}

		hashes := make([]string, len(chunks))
		weights := make([]float64, len(chunks))
		for i, c := range chunks {
			hashes[i] = c.ChunkHash
			weights[i] = float64(c.EndByte - c.StartByte)
		}
		fileVecHash := checksum.SumString(r.model + ":" + strings.Join(hashes, "|"))

		var storedHash string
		err = conn.QueryRow(
			`SELECT file_vec_hash FROM file_embeddings WHERE file_id = ? AND model = ?`,
			fileID, r.model).Scan(&storedHash)
		if err == nil && storedHash == fileVecHash {
			continue
		}

		existing, err := r.store.ExistingChunkHashes(hashes, r.model, dim)
		if err != nil {
			return updated, err
		}
		if len(existing) != len(hashes) {
			// Some chunk embeddings are still missing (limited run); skip.
			continue
		}

		vecByHash := map[string][]byte{}
		for _, h := range hashes {
			var blob []byte
			if err := conn.QueryRow(
				`SELECT vector FROM chunk_embeddings WHERE model = ? AND dim = ? AND chunk_hash = ?`,
				r.model, dim, h).Scan(&blob); err != nil {
				return updated, fmt.Errorf("embed: load chunk vector: %w", err)
			}
			vecByHash[h] = blob
		}
		vectors := make([][]byte, len(hashes))
		for i, h := range hashes {
			vectors[i] = vecByHash[h]
		}
		fileVec, err := WeightedMean(vectors, dim, weights)
		if err != nil {
			return updated, err
		}

		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := conn.Exec(`
			INSERT INTO file_embeddings (file_id, model, dim, vector, file_vec_hash, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_id, model) DO UPDATE SET
				dim           = excluded.dim,
				vector        = excluded.vector,
				file_vec_hash = excluded.file_vec_hash,
				updated_at    = excluded.updated_at`,
			fileID, r.model, dim, fileVec, fileVecHash, now); err != nil {
			return updated, fmt.Errorf("embed: upsert file vector: %w", err)
		}
		updated++
	}
	return updated, nil
}
