package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/raido/internal/ask"
	"github.com/starford/raido/internal/embed"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/search"
	"github.com/starford/raido/internal/session"
	"github.com/starford/raido/internal/vault"
)

// Runtime bundles the wired components shared by the CLI subcommands and
// the serve-mode HTTP and MCP servers.
type Runtime struct {
	Config   *Config
	Logger   *slog.Logger
	FS       *vault.FS
	DB       *index.DB
	Provider embed.Provider
	Indexer  *index.Indexer
	Runner   *embed.Runner
	Engine   *search.Engine
	Sessions *session.Store
	Pipeline *ask.Pipeline
}

// NewLogger builds the structured JSON logger used across the application.
func NewLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// NewRuntime opens the vault, the index database, and the session store,
// and wires the indexer, embed runner, search engine, and ask pipeline.
func NewRuntime(cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	fs, err := vault.NewFS(cfg.Vault.Path, cfg.Vault.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	provider, err := embed.NewSHA256Embedder(cfg.Embeddings.Dim)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	sessions, err := session.Open(cfg.Sessions.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init sessions: %w", err)
	}

	searchCfg := cfg.searchConfig()
	engine := search.NewEngine(fs, db, provider, searchCfg)

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		FS:       fs,
		DB:       db,
		Provider: provider,
		Indexer:  index.NewIndexer(fs, db, cfg.Vault.ParserOptions(), logger),
		Runner:   embed.NewRunner(fs, db, provider, cfg.Chunking.Chunker(), cfg.Embeddings.Model, logger),
		Engine:   engine,
		Sessions: sessions,
		Pipeline: ask.NewPipeline(fs, db, engine, sessions, cfg.askConfig(searchCfg), logger),
	}
	return rt, nil
}

// Close releases the runtime's database handles.
func (rt *Runtime) Close() error {
	var first error
	if rt.Sessions != nil {
		if err := rt.Sessions.Close(); err != nil {
			first = err
		}
	}
	if rt.DB != nil {
		if err := rt.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Config) searchConfig() search.Config {
	return search.Config{
		Model:                c.Embeddings.Model,
		Dim:                  c.Embeddings.Dim,
		HybridWeightLex:      c.Search.HybridWeightLex,
		HybridWeightVec:      c.Search.HybridWeightVec,
		PreferRecentHalfLife: c.Search.PreferRecentHalfLife,
		PreferRecentWeight:   c.Search.PreferRecentWeight,
		Excerpt: search.ExcerptConfig{
			MaxChars:    c.Search.ExcerptMaxChars,
			BeforeChars: c.Search.ContextBeforeChars,
			AfterChars:  c.Search.ContextAfterChars,
		},
		ExpandLinksCap:         c.Search.ExpandLinksCap,
		RepresentativeChunkOrd: c.Search.RepresentativeChunkOrd,
	}
}

func (c *Config) askConfig(searchCfg search.Config) ask.Config {
	return ask.Config{
		TopK:              c.Ask.TopK,
		PerFileCap:        c.Ask.PerFileCap,
		PackedMaxChars:    c.Ask.PackedMaxChars,
		TracesDir:         c.Ask.TracesDir,
		IncludeWhy:        c.Ask.IncludeWhy,
		GraphExpandCap:    c.Ask.GraphExpandCap,
		GraphRepChunkOrd:  c.Ask.GraphRepChunkOrd,
		SessionQueriesCap: c.Sessions.QueriesCap,
		SessionSourcesCap: c.Sessions.SourcesCap,
		Temporal: ask.TemporalConfig{
			DefaultMode:       c.Temporal.DefaultMode,
			WindowRecentDays:  c.Temporal.WindowRecentDays,
			WindowMonthDays:   c.Temporal.WindowMonthDays,
			WindowYearDays:    c.Temporal.WindowYearDays,
			DecayHalfLifeDays: c.Temporal.DecayHalfLifeDays,
			WeightJournal:     c.Temporal.WeightJournal,
			WeightEvergreen:   c.Temporal.WeightEvergreen,
		},
		Excerpt:        searchCfg.Excerpt,
		VaultRoot:      c.Vault.Path,
		DBPath:         c.SQLite.Path,
		SearchSnapshot: searchCfg,
	}
}
