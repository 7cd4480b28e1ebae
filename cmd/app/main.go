package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/raido/internal"
	"github.com/starford/raido/internal/ask"
	"github.com/starford/raido/internal/embed"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/search"
	pkgconfig "github.com/starford/raido/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIndex(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := internal.NewRuntime(cfg, internal.NewLogger(cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.Indexer.Scan(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runEmbed(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := internal.NewRuntime(cfg, internal.NewLogger(cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer rt.Close()

	// The embed run consumes the structural index, so refresh it first.
	if _, err := rt.Indexer.Scan(ctx); err != nil {
		return err
	}
	summary, err := rt.Runner.Run(ctx, embed.RunOptions{
		Full:  cmd.Bool("full"),
		Limit: int(cmd.Int("limit")),
	})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	query := cmd.Args().First()
	if query == "" {
		return fmt.Errorf("usage: raido search <query>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := internal.NewRuntime(cfg, internal.NewLogger(cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer rt.Close()

	topK := int(cmd.Int("top-k"))
	if topK <= 0 {
		topK = cfg.Search.TopKDefault
	}
	filters := search.Filters{
		Tags:     cmd.StringSlice("tag"),
		TagOR:    cmd.Bool("tag-or"),
		DateFrom: cmd.String("from"),
		DateTo:   cmd.String("to"),
	}
	hits, err := rt.Engine.Search(ctx, query, topK, cmd.Bool("prefer-recent"), filters, int(cmd.Int("expand-links")))
	if err != nil {
		return err
	}
	return printJSON(hits)
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	query := cmd.Args().First()
	if query == "" {
		return fmt.Errorf("usage: raido ask <query>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := internal.NewRuntime(cfg, internal.NewLogger(cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Pipeline.Ask(ctx, ask.Options{
		Query:        query,
		Graph:        cmd.Bool("graph"),
		Quiet:        cmd.Bool("quiet"),
		TemporalMode: cmd.String("temporal-mode"),
		UseSession:   cmd.Bool("session"),
		SessionID:    cmd.String("session-id"),
	})
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(res)
	}
	fmt.Print(res.Answer)
	return nil
}

func runSessionNew(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := internal.NewRuntime(cfg, internal.NewLogger(cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.Sessions.Create(nil)
	if err != nil {
		return err
	}
	return printJSON(sess)
}

func runSessionShow(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := internal.NewRuntime(cfg, internal.NewLogger(cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer rt.Close()

	id := cmd.Args().First()
	if id == "" {
		id, err = rt.Sessions.CurrentSessionID()
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("no current session")
		}
	}
	sess, err := rt.Sessions.Get(id)
	if err != nil {
		return err
	}
	return printJSON(sess)
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Stdout carries the MCP stdio protocol; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	rt, err := internal.NewRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.Indexer.Scan(ctx); err != nil {
		logger.Warn("initial scan failed", slog.String("error", err.Error()))
	}
	return mcpserver.New(rt.FS, rt.DB, rt.Engine, rt.Pipeline, cfg.Search.TopKDefault).ServeStdio()
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "raido",
		Usage: "Markdown vault retrieval engine with incremental indexing, hybrid search, and cited answers",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Scan the vault and bring the structural index up to date",
				Action: runIndex,
			},
			{
				Name:   "embed",
				Usage:  "Chunk changed files and refresh chunk and file embeddings",
				Action: runEmbed,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "full", Usage: "Drop and rebuild all chunks and embeddings for the model"},
					&cli.IntFlag{Name: "limit", Usage: "Embed at most N chunks this run (0 = no limit)"},
				},
			},
			{
				Name:   "search",
				Usage:  "Hybrid lexical + vector search over indexed chunks",
				Action: runSearch,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "top-k", Usage: "Maximum number of hits"},
					&cli.BoolFlag{Name: "prefer-recent", Usage: "Boost recent notes"},
					&cli.StringSliceFlag{Name: "tag", Usage: "Require tag (repeatable; AND semantics by default)"},
					&cli.BoolFlag{Name: "tag-or", Usage: "Match any tag instead of all"},
					&cli.StringFlag{Name: "from", Usage: "Earliest effective date (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "to", Usage: "Latest effective date (YYYY-MM-DD)"},
					&cli.IntFlag{Name: "expand-links", Usage: "Append up to N 1-hop link neighbors"},
				},
			},
			{
				Name:   "ask",
				Usage:  "Answer a question with packed, cited excerpts from the vault",
				Action: runAsk,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "graph", Usage: "Append bounded 1-hop link-graph neighbors"},
					&cli.BoolFlag{Name: "quiet", Usage: "Omit the why-these-sources section"},
					&cli.StringFlag{Name: "temporal-mode", Usage: "Temporal mode: recent, month, year, all, or hybrid"},
					&cli.BoolFlag{Name: "session", Usage: "Use the current session for continuity"},
					&cli.StringFlag{Name: "session-id", Usage: "Use an explicit session id"},
					&cli.BoolFlag{Name: "json", Usage: "Print the full result as JSON"},
				},
			},
			{
				Name:  "session",
				Usage: "Manage ask sessions",
				Commands: []*cli.Command{
					{
						Name:   "new",
						Usage:  "Create a session and make it current",
						Action: runSessionNew,
					},
					{
						Name:   "show",
						Usage:  "Show a session by id (default: the current one)",
						Action: runSessionShow,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with a vault watcher",
				Action: runServe,
			},
			{
				Name:   "mcp",
				Usage:  "Run the stdio MCP server with read-only retrieval tools",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
