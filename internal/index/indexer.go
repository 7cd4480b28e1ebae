package index

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/vault"
)

// Summary reports what one index scan did.
type Summary struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

// Indexer incrementally synchronizes the vault into the index database.
type Indexer struct {
	fs     *vault.FS
	db     *DB
	opts   parser.Options
	logger *slog.Logger
}

// NewIndexer wires a vault reader and an index database together.
func NewIndexer(fs *vault.FS, db *DB, opts parser.Options, logger *slog.Logger) *Indexer {
	return &Indexer{fs: fs, db: db, opts: opts, logger: logger}
}

// Scan walks the vault and brings the index up to date. Unchanged files
// (same mtime and size) are skipped; files whose content hash is unchanged
// get a metadata-only touch that preserves row identities; changed files are
// reparsed and replaced transactionally; files gone from disk are deleted
// with all dependent rows.
func (ix *Indexer) Scan(ctx context.Context) (Summary, error) {
	infos, err := ix.fs.List()
	if err != nil {
		return Summary{}, fmt.Errorf("index: scan: %w", err)
	}

	var sum Summary
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Scanned++
		seen[info.Path] = struct{}{}

		changed, err := ix.syncFile(info)
		if err != nil {
			return sum, err
		}
		if changed {
			sum.Updated++
		} else {
			sum.Unchanged++
		}
	}

	indexed, err := ix.db.ListPaths()
	if err != nil {
		return sum, err
	}
	var gone []string
	for _, p := range indexed {
		if _, ok := seen[p]; !ok {
			gone = append(gone, p)
		}
	}
	deleted, err := ix.db.DeleteFilesByPath(gone)
	if err != nil {
		return sum, err
	}
	sum.Deleted = deleted

	ix.logger.Info("index scan complete",
		slog.Int("scanned", sum.Scanned),
		slog.Int("updated", sum.Updated),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("deleted", sum.Deleted))
	return sum, nil
}

// syncFile reconciles one vault file and reports whether anything changed.
func (ix *Indexer) syncFile(info vault.FileInfo) (bool, error) {
	existing, err := ix.db.GetFile(info.Path)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.MtimeNs == info.MtimeNs && existing.Size == info.Size {
		return false, nil
	}

	data, err := ix.fs.Read(info.Path)
	if err != nil {
		return false, err
	}
	contentHash := checksum.Sum(data)

	if existing != nil && existing.ContentHash == contentHash {
		if err := ix.db.TouchFile(existing.ID, info.MtimeNs, info.Size); err != nil {
			return false, err
		}
		ix.logger.Debug("touched file", slog.String("path", info.Path))
		return true, nil
	}

	parsed := parser.Parse(data, ix.opts)
	_, err = ix.db.UpsertParsed(FileRow{
		Path:        info.Path,
		Title:       Title(info.Path),
		MtimeNs:     info.MtimeNs,
		Size:        info.Size,
		ContentHash: contentHash,
		JournalDate: parsed.JournalDate,
	}, parsed)
	if err != nil {
		return false, err
	}
	ix.logger.Debug("indexed file", slog.String("path", info.Path))
	return true, nil
}

// Title derives a note's title from its relative path: the file name
// without the .md extension.
func Title(relPath string) string {
	return strings.TrimSuffix(path.Base(relPath), ".md")
}
