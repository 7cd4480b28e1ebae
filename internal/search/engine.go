package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/embed"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/vault"
)

// Config carries the retrieval parameters.
type Config struct {
	Model                  string
	Dim                    int
	HybridWeightLex        float64
	HybridWeightVec        float64
	PreferRecentHalfLife   float64 // days
	PreferRecentWeight     float64
	Excerpt                ExcerptConfig
	ExpandLinksCap         int
	RepresentativeChunkOrd int
}

// Filters restricts the candidate universe before scoring.
type Filters struct {
	Tags     []string
	TagOR    bool
	DateFrom string // inclusive, YYYY-MM-DD
	DateTo   string // inclusive, YYYY-MM-DD
}

// Hit is one search result.
type Hit struct {
	Score           float64 `json:"score"`
	Path            string  `json:"path"`
	Title           string  `json:"title"`
	HeadingPath     string  `json:"heading_path"`
	StartByte       int     `json:"start_byte"`
	EndByte         int     `json:"end_byte"`
	EffectiveDate   string  `json:"effective_date"`
	MtimeNs         int64   `json:"mtime_ns"`
	Excerpt         string  `json:"excerpt"`
	ExpandedContext bool    `json:"expanded_context"`

	FileID int64 `json:"-"`
}

// Engine fuses the lexical and vector retrieval legs.
type Engine struct {
	fs       *vault.FS
	db       *index.DB
	store    *embed.Store
	provider embed.Provider
	cfg      Config
}

// NewEngine wires the engine over an already-open index database.
func NewEngine(fs *vault.FS, db *index.DB, provider embed.Provider, cfg Config) *Engine {
	return &Engine{fs: fs, db: db, store: embed.NewStore(db.Conn()), provider: provider, cfg: cfg}
}

type candidate struct {
	index.ChunkRef
	lexRaw *float64
	vecRaw *float64
}

// Search runs the hybrid query. Primary hits are scored and truncated to
// topK; when expandLinks is non-zero, up to min(expandLinks, cap) link-graph
// neighbors are appended after the primary hits without reordering them.
func (e *Engine) Search(ctx context.Context, query string, topK int, preferRecent bool, filters Filters, expandLinks int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := e.checkPrerequisites(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allowedFileIDs, err := e.db.AllowedFileIDsByTags(filters.Tags, filters.TagOR)
	if err != nil {
		return nil, err
	}

	overFetch := topK * 5
	if overFetch < topK {
		overFetch = topK
	}

	lexRows, err := e.db.SearchChunksLexical(index.LexicalQuery{
		Query:          query,
		Limit:          overFetch,
		AllowedFileIDs: allowedFileIDs,
		DateFrom:       filters.DateFrom,
		DateTo:         filters.DateTo,
		TextOf:         e.fs.Read,
	})
	if err != nil {
		return nil, err
	}

	allowedHashes, err := e.db.ChunkHashesForFilters(allowedFileIDs, filters.DateFrom, filters.DateTo)
	if err != nil {
		return nil, err
	}
	var allowSet map[string]struct{}
	if allowedHashes != nil {
		allowSet = make(map[string]struct{}, len(allowedHashes))
		for _, h := range allowedHashes {
			allowSet[h] = struct{}{}
		}
	}

	queryVec, err := e.provider.EmbedText(query)
	if err != nil {
		return nil, err
	}
	vecHits, err := e.store.Search(queryVec, e.cfg.Model, e.cfg.Dim, overFetch, allowSet)
	if err != nil {
		return nil, err
	}

	// Fuse by chunk ID; lexical rows carry metadata already, vector-only
	// candidates need theirs loaded.
	candidates := map[string]*candidate{}
	for _, r := range lexRows {
		raw := r.Raw
		candidates[r.ChunkID] = &candidate{ChunkRef: r.ChunkRef, lexRaw: &raw}
	}
	vecByHash := make(map[string]float64, len(vecHits))
	for _, v := range vecHits {
		vecByHash[v.ChunkHash] = v.Raw
	}
	if len(vecHits) > 0 {
		hashes := make([]string, len(vecHits))
		for i, v := range vecHits {
			hashes[i] = v.ChunkHash
		}
		refs, err := e.db.ChunkRefsByHashes(hashes)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			raw, ok := vecByHash[ref.ChunkHash]
			if !ok {
				continue
			}
			v := raw
			if c, exists := candidates[ref.ChunkID]; exists {
				c.vecRaw = &v
			} else {
				candidates[ref.ChunkID] = &candidate{ChunkRef: ref, vecRaw: &v}
			}
		}
	}

	lexVals := map[string]float64{}
	vecVals := map[string]float64{}
	for k, c := range candidates {
		if c.lexRaw != nil {
			lexVals[k] = *c.lexRaw
		}
		if c.vecRaw != nil {
			vecVals[k] = *c.vecRaw
		}
	}
	lexNorm := MinMaxNormalize(lexVals)
	vecNorm := MinMaxNormalize(vecVals)

	now := time.Now().UTC()
	type scored struct {
		score float64
		c     *candidate
	}
	all := make([]scored, 0, len(candidates))
	for k, c := range candidates {
		score := e.cfg.HybridWeightLex*lexNorm[k] + e.cfg.HybridWeightVec*vecNorm[k]
		if preferRecent {
			score += RecencyBoost(c.EffectiveDate, now, e.cfg.PreferRecentHalfLife, e.cfg.PreferRecentWeight)
		}
		all = append(all, scored{score, c})
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.c.MtimeNs != b.c.MtimeNs {
			return a.c.MtimeNs > b.c.MtimeNs
		}
		if a.c.Path != b.c.Path {
			return a.c.Path < b.c.Path
		}
		return a.c.StartByte < b.c.StartByte
	})
	if len(all) > topK {
		all = all[:topK]
	}

	content := map[string][]byte{}
	readFile := func(rel string) ([]byte, error) {
		if data, ok := content[rel]; ok {
			return data, nil
		}
		data, err := e.fs.Read(rel)
		if err != nil {
			return nil, err
		}
		content[rel] = data
		return data, nil
	}

	hits := make([]Hit, 0, len(all))
	for _, s := range all {
		data, err := readFile(s.c.Path)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			Score:         s.score,
			Path:          s.c.Path,
			Title:         s.c.Title,
			HeadingPath:   s.c.HeadingPath,
			StartByte:     s.c.StartByte,
			EndByte:       s.c.EndByte,
			EffectiveDate: s.c.EffectiveDate,
			MtimeNs:       s.c.MtimeNs,
			Excerpt:       MakeExcerpt(data, s.c.StartByte, s.c.EndByte, query, e.cfg.Excerpt),
			FileID:        s.c.FileID,
		})
	}

	if expandLinks != 0 {
		expanded, err := e.expand(hits, query, expandLinks, readFile)
		if err != nil {
			return nil, err
		}
		hits = append(hits, expanded...)
	}
	return hits, nil
}

// expand appends 1-hop link-graph neighbors of the primary hits, each
// represented by its configured representative chunk.
func (e *Engine) expand(primary []Hit, query string, expandLinks int, readFile func(string) ([]byte, error)) ([]Hit, error) {
	cap := e.cfg.ExpandLinksCap
	if expandLinks > 0 && expandLinks < cap {
		cap = expandLinks
	}
	fileIDs := make([]int64, 0, len(primary))
	for _, h := range primary {
		fileIDs = append(fileIDs, h.FileID)
	}
	neighbors, err := e.db.ExpansionNeighbors(fileIDs, cap)
	if err != nil {
		return nil, err
	}

	var out []Hit
	for _, n := range neighbors {
		rep, err := e.db.RepresentativeChunk(n.FileID, e.cfg.RepresentativeChunkOrd)
		if err != nil {
			return nil, err
		}
		if rep == nil {
			continue
		}
		data, err := readFile(n.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, Hit{
			Score:           0,
			Path:            n.Path,
			Title:           n.Title,
			HeadingPath:     rep.HeadingPath,
			StartByte:       rep.StartByte,
			EndByte:         rep.EndByte,
			EffectiveDate:   n.EffectiveDate,
			MtimeNs:         n.MtimeNs,
			Excerpt:         MakeExcerpt(data, rep.StartByte, rep.EndByte, query, e.cfg.Excerpt),
			ExpandedContext: true,
			FileID:          n.FileID,
		})
	}
	return out, nil
}

func (e *Engine) checkPrerequisites() error {
	hasFiles, err := e.db.HasFiles()
	if err != nil {
		return err
	}
	if !hasFiles {
		return fmt.Errorf("search: index is empty, run an index scan first: %w", apperr.ErrMissingPrerequisite)
	}
	hasChunks, err := e.db.HasChunks()
	if err != nil {
		return err
	}
	if !hasChunks {
		return fmt.Errorf("search: no chunks present, run an embed pass first: %w", apperr.ErrMissingPrerequisite)
	}
	return nil
}
