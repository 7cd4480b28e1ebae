package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/raido/internal/ask"
	"github.com/starford/raido/internal/chunker"
	"github.com/starford/raido/internal/embed"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/search"
	"github.com/starford/raido/internal/vault"
)

func testServer(t *testing.T, files map[string]string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	fs, err := vault.NewFS(root, nil)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	db, err := index.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	popts := parser.Options{JournalDateKey: "date", JournalDateLayouts: []string{"2006-01-02"}}
	ix := index.NewIndexer(fs, db, popts, logger)
	if _, err := ix.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	provider, err := embed.NewSHA256Embedder(8)
	if err != nil {
		t.Fatal(err)
	}
	ccfg := chunker.Config{MaxBytes: 4000, SplitStrategy: chunker.SplitParagraphThenWindow}
	runner := embed.NewRunner(fs, db, provider, ccfg, "dummy-sha256", logger)
	if _, err := runner.Run(context.Background(), embed.RunOptions{}); err != nil {
		t.Fatalf("embed Run: %v", err)
	}

	excerpt := search.ExcerptConfig{MaxChars: 400, BeforeChars: 80, AfterChars: 320}
	engine := search.NewEngine(fs, db, provider, search.Config{
		Model:           "dummy-sha256",
		Dim:             8,
		HybridWeightLex: 1.0,
		HybridWeightVec: 0.0,
		Excerpt:         excerpt,
		ExpandLinksCap:  10,
	})
	pipeline := ask.NewPipeline(fs, db, engine, nil, ask.Config{
		TopK:           10,
		PerFileCap:     3,
		PackedMaxChars: 8000,
		TracesDir:      filepath.Join(t.TempDir(), "traces"),
		IncludeWhy:     true,
		Temporal:       ask.TemporalConfig{DefaultMode: ask.ModeHybrid, DecayHalfLifeDays: 30},
		Excerpt:        excerpt,
	}, logger)

	return New(fs, db, engine, pipeline, 10)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error
	switch name {
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "ask":
		result, err = srv.ask(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSearchNotesTool(t *testing.T) {
	srv := testServer(t, map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
	})

	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "carrots"})
	if r.IsError {
		t.Fatalf("tool errored: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "cooking.md") {
		t.Errorf("result = %q, want a cooking.md hit", resultText(r))
	}
}

func TestSearchNotesMissingQuery(t *testing.T) {
	srv := testServer(t, map[string]string{"a.md": "# A\n\nbody\n"})
	r := callTool(t, srv, "search_notes", map[string]interface{}{})
	if !r.IsError {
		t.Error("missing query should produce a tool error")
	}
}

func TestAskTool(t *testing.T) {
	srv := testServer(t, map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
	})

	r := callTool(t, srv, "ask", map[string]interface{}{"query": "carrots"})
	if r.IsError {
		t.Fatalf("tool errored: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.HasPrefix(text, "Q: carrots\n") || !strings.Contains(text, "cooking.md") {
		t.Errorf("answer = %q", text)
	}
}

func TestReadNoteTool(t *testing.T) {
	srv := testServer(t, map[string]string{"note.md": "# Note\n\nbody\n"})

	r := callTool(t, srv, "read_note", map[string]interface{}{"path": "note.md"})
	if resultText(r) != "# Note\n\nbody\n" {
		t.Errorf("read result = %q", resultText(r))
	}

	r = callTool(t, srv, "read_note", map[string]interface{}{"path": "missing.md"})
	if !r.IsError {
		t.Error("missing note should produce a tool error")
	}
}

func TestListNotesTool(t *testing.T) {
	srv := testServer(t, map[string]string{
		"a.md":         "# A\n\nbody\n",
		"inbox/b.md":   "# B\n\nbody\n",
		"inbox/c.md":   "# C\n\nbody\n",
		"archive/d.md": "# D\n\nbody\n",
	})

	r := callTool(t, srv, "list_notes", map[string]interface{}{})
	if got := resultText(r); !strings.Contains(got, "a.md") || !strings.Contains(got, "inbox/b.md") {
		t.Errorf("unfiltered list = %q", got)
	}

	r = callTool(t, srv, "list_notes", map[string]interface{}{"folder": "inbox"})
	got := resultText(r)
	if strings.Contains(got, "archive/d.md") || !strings.Contains(got, "inbox/c.md") {
		t.Errorf("filtered list = %q", got)
	}
}

func TestGetBacklinksTool(t *testing.T) {
	srv := testServer(t, map[string]string{
		"hub.md": "# Hub\n\nbody\n",
		"fan.md": "# Fan\n\npoints at [[hub]]\n",
	})

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"path": "hub.md"})
	if resultText(r) != "fan.md" {
		t.Errorf("backlinks = %q, want fan.md", resultText(r))
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"path": "fan.md"})
	if resultText(r) != "no backlinks found" {
		t.Errorf("backlinks = %q, want none", resultText(r))
	}
}
