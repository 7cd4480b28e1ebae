package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/raido/internal/chunker"
	"github.com/starford/raido/internal/parser"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Temporal modes accepted by [TemporalConfig].
var temporalModes = []any{"recent", "month", "year", "all", "hybrid"}

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Vault      VaultConfig       `yaml:"vault"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Chunking   ChunkingConfig    `yaml:"chunking"`
	Embeddings EmbeddingsConfig  `yaml:"embeddings"`
	Search     SearchConfig      `yaml:"search"`
	Ask        AskConfig         `yaml:"ask"`
	Sessions   SessionsConfig    `yaml:"sessions"`
	Temporal   TemporalConfig    `yaml:"temporal"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	if err := c.Embeddings.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Ask.Validate(); err != nil {
		return err
	}
	if err := c.Sessions.Validate(); err != nil {
		return err
	}
	return c.Temporal.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory and how
// frontmatter journal dates are read from its files.
type VaultConfig struct {
	Path               string   `yaml:"path"`
	ExcludeGlobs       []string `yaml:"exclude_globs"`
	JournalDateKey     string   `yaml:"journal_date_key"`
	JournalDateLayouts []string `yaml:"journal_date_layouts"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.JournalDateKey, validation.Required),
		validation.Field(&c.JournalDateLayouts, validation.Required),
	)
}

// ParserOptions converts the config into the parser's option struct.
func (c *VaultConfig) ParserOptions() parser.Options {
	return parser.Options{
		JournalDateKey:     c.JournalDateKey,
		JournalDateLayouts: c.JournalDateLayouts,
	}
}

// SQLiteConfig holds the index database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// ChunkingConfig controls how files are partitioned into chunks.
type ChunkingConfig struct {
	MinBytes        int    `yaml:"min_bytes"`
	MaxBytes        int    `yaml:"max_bytes"`
	SplitStrategy   string `yaml:"split_strategy"`
	IncludePreamble bool   `yaml:"include_preamble"`
}

// Validate validates the chunking configuration.
func (c *ChunkingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MinBytes, validation.Min(0)),
		validation.Field(&c.MaxBytes, validation.Required, validation.Min(1)),
		validation.Field(&c.SplitStrategy, validation.Required, validation.In(chunker.SplitParagraphThenWindow)),
	)
}

// Chunker converts the config into the chunker's parameter struct.
func (c *ChunkingConfig) Chunker() chunker.Config {
	return chunker.Config{
		MinBytes:        c.MinBytes,
		MaxBytes:        c.MaxBytes,
		SplitStrategy:   c.SplitStrategy,
		IncludePreamble: c.IncludePreamble,
	}
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	Dim     int    `yaml:"dim"`
}

// Validate validates the embeddings configuration.
func (c *EmbeddingsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In("sqlite")),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Dim, validation.Required, validation.Min(1)),
	)
}

// SearchConfig holds retrieval and excerpt parameters.
type SearchConfig struct {
	TopKDefault            int     `yaml:"top_k_default"`
	HybridWeightLex        float64 `yaml:"hybrid_weight_lex"`
	HybridWeightVec        float64 `yaml:"hybrid_weight_vec"`
	PreferRecentHalfLife   float64 `yaml:"prefer_recent_half_life_days"`
	PreferRecentWeight     float64 `yaml:"prefer_recent_weight"`
	ExcerptMaxChars        int     `yaml:"excerpt_max_chars"`
	ContextBeforeChars     int     `yaml:"context_before_chars"`
	ContextAfterChars      int     `yaml:"context_after_chars"`
	ExpandLinksCap         int     `yaml:"expand_links_cap"`
	RepresentativeChunkOrd int     `yaml:"representative_chunk_ord"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TopKDefault, validation.Required, validation.Min(1)),
		validation.Field(&c.HybridWeightLex, validation.Min(0.0)),
		validation.Field(&c.HybridWeightVec, validation.Min(0.0)),
		validation.Field(&c.ExcerptMaxChars, validation.Min(0)),
		validation.Field(&c.ContextBeforeChars, validation.Min(0)),
		validation.Field(&c.ContextAfterChars, validation.Min(0)),
		validation.Field(&c.ExpandLinksCap, validation.Min(0)),
		validation.Field(&c.RepresentativeChunkOrd, validation.Min(0)),
	)
}

// AskConfig holds ask pipeline budgets and trace output settings.
type AskConfig struct {
	TopK             int    `yaml:"top_k"`
	PerFileCap       int    `yaml:"per_file_cap"`
	PackedMaxChars   int    `yaml:"packed_max_chars"`
	TracesDir        string `yaml:"traces_dir"`
	IncludeWhy       bool   `yaml:"include_why"`
	GraphExpandCap   int    `yaml:"graph_expand_cap"`
	GraphRepChunkOrd int    `yaml:"graph_rep_chunk_ord"`
}

// Validate validates the ask configuration.
func (c *AskConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TopK, validation.Required, validation.Min(1)),
		validation.Field(&c.PerFileCap, validation.Min(0)),
		validation.Field(&c.PackedMaxChars, validation.Min(0)),
		validation.Field(&c.TracesDir, validation.Required),
		validation.Field(&c.GraphExpandCap, validation.Min(0)),
		validation.Field(&c.GraphRepChunkOrd, validation.Min(0)),
	)
}

// SessionsConfig holds the session store location and history caps.
type SessionsConfig struct {
	Path       string `yaml:"path"`
	QueriesCap int    `yaml:"last_n_queries_cap"`
	SourcesCap int    `yaml:"last_n_sources_cap"`
}

// Validate validates the sessions configuration.
func (c *SessionsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.QueriesCap, validation.Min(0)),
		validation.Field(&c.SourcesCap, validation.Min(0)),
	)
}

// TemporalConfig controls the temporal re-scoring layer of ask.
type TemporalConfig struct {
	DefaultMode       string  `yaml:"default_mode"`
	WindowRecentDays  int     `yaml:"window_recent_days"`
	WindowMonthDays   int     `yaml:"window_month_days"`
	WindowYearDays    int     `yaml:"window_year_days"`
	DecayHalfLifeDays float64 `yaml:"decay_half_life_days"`
	WeightJournal     float64 `yaml:"weight_journal"`
	WeightEvergreen   float64 `yaml:"weight_evergreen"`
}

// Validate validates the temporal configuration.
func (c *TemporalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultMode, validation.Required, validation.In(temporalModes...)),
		validation.Field(&c.WindowRecentDays, validation.Min(0)),
		validation.Field(&c.WindowMonthDays, validation.Min(0)),
		validation.Field(&c.WindowYearDays, validation.Min(0)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:               "./vault",
			JournalDateKey:     "date",
			JournalDateLayouts: []string{"2006-01-02", "01-02-2006"},
		},
		SQLite: SQLiteConfig{
			Path: "./raido.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Chunking: ChunkingConfig{
			MinBytes:        400,
			MaxBytes:        4000,
			SplitStrategy:   chunker.SplitParagraphThenWindow,
			IncludePreamble: false,
		},
		Embeddings: EmbeddingsConfig{
			Backend: "sqlite",
			Model:   "dummy-sha256",
			Dim:     64,
		},
		Search: SearchConfig{
			TopKDefault:            10,
			HybridWeightLex:        0.5,
			HybridWeightVec:        0.5,
			PreferRecentHalfLife:   30,
			PreferRecentWeight:     0.15,
			ExcerptMaxChars:        400,
			ContextBeforeChars:     80,
			ContextAfterChars:      320,
			ExpandLinksCap:         10,
			RepresentativeChunkOrd: 0,
		},
		Ask: AskConfig{
			TopK:             10,
			PerFileCap:       3,
			PackedMaxChars:   8000,
			TracesDir:        "./traces",
			IncludeWhy:       true,
			GraphExpandCap:   10,
			GraphRepChunkOrd: 0,
		},
		Sessions: SessionsConfig{
			Path:       "./raido_sessions.db",
			QueriesCap: 20,
			SourcesCap: 30,
		},
		Temporal: TemporalConfig{
			DefaultMode:       "hybrid",
			WindowRecentDays:  14,
			WindowMonthDays:   31,
			WindowYearDays:    366,
			DecayHalfLifeDays: 30,
			WeightJournal:     0.3,
			WeightEvergreen:   0.1,
		},
	}
}
