package ask

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/search"
	"github.com/starford/raido/internal/session"
	"github.com/starford/raido/internal/vault"
)

// PipelineVersion participates in the trace dedupe key so traces from
// different pipeline revisions never collide.
const PipelineVersion = "ask_v1"

// Config carries the ask pipeline parameters.
type Config struct {
	TopK             int
	PerFileCap       int
	PackedMaxChars   int
	TracesDir        string
	IncludeWhy       bool
	GraphExpandCap   int
	GraphRepChunkOrd int

	SessionQueriesCap int
	SessionSourcesCap int

	Temporal TemporalConfig
	Excerpt  search.ExcerptConfig

	// VaultRoot and DBPath identify the corpus in the trace dedupe key.
	VaultRoot string
	DBPath    string

	// SearchSnapshot is the search configuration echoed into traces.
	SearchSnapshot any
}

// Options adjusts one ask invocation.
type Options struct {
	Query        string
	Graph        bool
	Quiet        bool
	TemporalMode string // empty uses the configured default
	UseSession   bool
	SessionID    string // explicit session; empty with UseSession resolves the current one
}

// Result is the outcome of one ask invocation.
type Result struct {
	Answer          string          `json:"answer"`
	Citations       []Citation      `json:"citations"`
	WhyTheseSources []string        `json:"why_these_sources"`
	Packed          []PackedExcerpt `json:"packed"`
	TracePath       string          `json:"trace_path"`
	SessionID       string          `json:"session_id,omitempty"`
	TemporalMode    string          `json:"temporal_mode"`
}

// Pipeline composes search, graph expansion, session continuity, temporal
// re-scoring, reranking, packing, and trace emission.
type Pipeline struct {
	fs       *vault.FS
	db       *index.DB
	engine   *search.Engine
	sessions *session.Store // nil disables session continuity
	cfg      Config
	logger   *slog.Logger
}

// NewPipeline wires the ask pipeline. sessions may be nil.
func NewPipeline(fs *vault.FS, db *index.DB, engine *search.Engine, sessions *session.Store, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{fs: fs, db: db, engine: engine, sessions: sessions, cfg: cfg, logger: logger}
}

// Ask runs the full pipeline for one query.
func (p *Pipeline) Ask(ctx context.Context, opts Options) (*Result, error) {
	eff := p.cfg
	var (
		sess      *session.Session
		sessAfter *session.Session
		rwLog     []session.RWLogEntry
	)

	if p.sessions != nil && (opts.UseSession || opts.SessionID != "") {
		var err error
		sess, err = p.resolveSession(opts.SessionID)
		if err != nil {
			return nil, err
		}
		applyBudgetOverrides(&eff, sess.BudgetSnapshot)
	}

	primary, err := p.engine.Search(ctx, opts.Query, eff.TopK, false, search.Filters{}, 0)
	if err != nil {
		return nil, err
	}

	hits := append([]search.Hit(nil), primary...)
	if opts.Graph {
		expanded, err := GraphExpand(p.db, p.fs, opts.Query, primary, GraphExpandConfig{
			ExpandCap:   eff.GraphExpandCap,
			RepChunkOrd: eff.GraphRepChunkOrd,
			Excerpt:     eff.Excerpt,
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, expanded...)
	}

	pinned := 0
	if sess != nil {
		pins, err := p.pinnedHits(sess.SelectedSources, opts.Query)
		if err != nil {
			return nil, err
		}
		pinned = len(pins)
		hits = append(hits, pins...)
	}

	temporal := ApplyTemporal(hits, opts.TemporalMode, eff.Temporal)

	filtered := Rerank(temporal.Hits, RerankConfig{PerFileCap: eff.PerFileCap, KeepExpanded: true})
	packed := Pack(filtered, PackConfig{PackedMaxChars: eff.PackedMaxChars})

	why := whySources(len(hits), len(packed), opts.Graph, pinned)
	answer, citations, whyOut := BuildAnswer(opts.Query, packed, eff.IncludeWhy && !opts.Quiet, why)

	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
		if entry, err := p.sessions.AppendQuery(sess.ID, opts.Query, eff.SessionQueriesCap); err == nil {
			rwLog = append(rwLog, entry)
		} else {
			return nil, err
		}
		sources := make([]session.Source, len(citations))
		for i, c := range citations {
			sources[i] = session.Source{Path: c.Path, StartByte: c.StartByte, EndByte: c.EndByte}
		}
		entry, err := p.sessions.SetSelectedSources(sess.ID, sources, eff.SessionSourcesCap)
		if err != nil {
			return nil, err
		}
		rwLog = append(rwLog, entry)
		sessAfter, err = p.sessions.Get(sess.ID)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]CandidateRow, len(filtered))
	for i, h := range filtered {
		candidates[i] = CandidateRow{
			Rank:            i + 1,
			Score:           h.Score,
			Path:            h.Path,
			StartByte:       h.StartByte,
			EndByte:         h.EndByte,
			EffectiveDate:   h.EffectiveDate,
			ExpandedContext: h.ExpandedContext,
		}
	}

	dedupeKey := fmt.Sprintf("%s\n%s\n%s\n%t\n%s\n%s",
		opts.Query, p.cfg.VaultRoot, p.cfg.DBPath, opts.Graph, sessionID, PipelineVersion)
	tracePath, err := WriteTrace(eff.TracesDir, TracePayload{
		PipelineVersion: PipelineVersion,
		TsUTC:           nowISO(),
		Query:           opts.Query,
		AskConfig:       p.cfg,
		AskConfigEff:    eff,
		SearchConfig:    p.cfg.SearchSnapshot,
		GraphEnabled:    opts.Graph,
		Temporal: TraceTemporal{
			Mode:          temporal.Mode,
			ReferenceDate: temporal.ReferenceDate,
			WindowDays:    temporal.WindowDays,
		},
		SessionBefore:   sess,
		SessionAfter:    sessAfter,
		SessionRWLog:    rwLog,
		Candidates:      candidates,
		Packed:          packed,
		Answer:          answer,
		Citations:       citations,
		WhyTheseSources: whyOut,
	}, "ask", dedupeKey)
	if err != nil {
		return nil, err
	}

	p.logger.Info("ask complete",
		slog.String("query", opts.Query),
		slog.Int("hits", len(hits)),
		slog.Int("packed", len(packed)),
		slog.String("temporal_mode", temporal.Mode),
		slog.String("trace", tracePath))

	return &Result{
		Answer:          answer,
		Citations:       citations,
		WhyTheseSources: whyOut,
		Packed:          packed,
		TracePath:       tracePath,
		SessionID:       sessionID,
		TemporalMode:    temporal.Mode,
	}, nil
}

// resolveSession loads an explicit session (unknown ids fail) or ensures
// the current one exists, creating it when the pointer is unset or
// dangling.
func (p *Pipeline) resolveSession(explicitID string) (*session.Session, error) {
	if explicitID != "" {
		return p.sessions.Get(explicitID)
	}
	current, err := p.sessions.CurrentSessionID()
	if err != nil {
		return nil, err
	}
	if current == "" {
		return p.sessions.Create(nil)
	}
	return p.sessions.Ensure(current, nil)
}

// pinnedHits re-includes previously cited sources that still resolve to a
// live chunk span; stale pins are silently dropped.
func (p *Pipeline) pinnedHits(sources []session.Source, query string) ([]search.Hit, error) {
	var out []search.Hit
	for _, src := range sources {
		ref, err := p.db.LookupChunkRef(src.Path, src.StartByte, src.EndByte)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			continue
		}
		data, err := p.fs.Read(ref.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, search.Hit{
			Score:         0,
			Path:          ref.Path,
			Title:         ref.Title,
			HeadingPath:   ref.HeadingPath,
			StartByte:     ref.StartByte,
			EndByte:       ref.EndByte,
			EffectiveDate: ref.EffectiveDate,
			MtimeNs:       ref.MtimeNs,
			Excerpt:       search.MakeExcerpt(data, ref.StartByte, ref.EndByte, query, p.cfg.Excerpt),
			FileID:        ref.FileID,
		})
	}
	return out, nil
}

func applyBudgetOverrides(cfg *Config, budget map[string]any) {
	if v, ok := asInt(budget["top_k"]); ok && v > 0 {
		cfg.TopK = v
	}
	if v, ok := asInt(budget["per_file_cap"]); ok && v > 0 {
		cfg.PerFileCap = v
	}
	if v, ok := asInt(budget["packed_max_chars"]); ok && v > 0 {
		cfg.PackedMaxChars = v
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func whySources(retrieved, packed int, graph bool, pinned int) []string {
	bullets := []string{
		fmt.Sprintf("Selected %d/%d hits under deterministic caps and budgets.", packed, retrieved),
		"Primary hits come from hybrid lexical + vector search over indexed chunks.",
	}
	if graph {
		bullets = append(bullets, "Appended bounded 1-hop link neighbors without reordering primary hits.")
	}
	if pinned > 0 {
		bullets = append(bullets, fmt.Sprintf("Re-included %d pinned sources for session continuity.", pinned))
	}
	if len(bullets) > 4 {
		bullets = bullets[:4]
	}
	return bullets
}
