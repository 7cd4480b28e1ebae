package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/chunker"
	"github.com/starford/raido/internal/embed"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngineConfig() Config {
	return Config{
		Model:                "dummy-sha256",
		Dim:                  8,
		HybridWeightLex:      0.5,
		HybridWeightVec:      0.5,
		PreferRecentHalfLife: 30,
		PreferRecentWeight:   0.15,
		Excerpt:              ExcerptConfig{MaxChars: 400, BeforeChars: 80, AfterChars: 320},
		ExpandLinksCap:       10,
	}
}

// testEngine builds a fully indexed and embedded vault.
func testEngine(t *testing.T, files map[string]string) (*Engine, *index.DB) {
	return testEngineWithConfig(t, files, testEngineConfig())
}

func testEngineWithConfig(t *testing.T, files map[string]string, cfg Config) (*Engine, *index.DB) {
	return testEngineAt(t, files, cfg, nil)
}

// testEngineAt additionally pins per-file modification times before the
// index scan so mtime-derived ordering is deterministic.
func testEngineAt(t *testing.T, files map[string]string, cfg Config, mtimes map[string]time.Time) (*Engine, *index.DB) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if mt, ok := mtimes[rel]; ok {
			if err := os.Chtimes(abs, mt, mt); err != nil {
				t.Fatal(err)
			}
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
	ix := index.NewIndexer(fs, db, popts, testLogger())
	if _, err := ix.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	provider, err := embed.NewSHA256Embedder(8)
	if err != nil {
		t.Fatalf("NewSHA256Embedder: %v", err)
	}
	ccfg := chunker.Config{MinBytes: 0, MaxBytes: 4000, SplitStrategy: chunker.SplitParagraphThenWindow}
	runner := embed.NewRunner(fs, db, provider, ccfg, "dummy-sha256", testLogger())
	if _, err := runner.Run(context.Background(), embed.RunOptions{}); err != nil {
		t.Fatalf("embed Run: %v", err)
	}

	return NewEngine(fs, db, provider, cfg), db
}

func TestSearchFindsLexicalMatch(t *testing.T) {
	// Lexical-only weighting keeps the assertion independent of the
	// placeholder vectors.
	cfg := testEngineConfig()
	cfg.HybridWeightLex = 1.0
	cfg.HybridWeightVec = 0.0
	engine, _ := testEngineWithConfig(t, map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
		"other.md":   "# Other\n\nunrelated prose entirely\n",
	}, cfg)

	hits, err := engine.Search(context.Background(), "carrots", 10, false, Filters{}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].Path != "cooking.md" {
		t.Errorf("top hit = %s, want cooking.md", hits[0].Path)
	}
	if hits[0].Excerpt == "" {
		t.Error("top hit has no excerpt")
	}
	if hits[0].Score <= 0 {
		t.Errorf("top hit score = %v, want > 0", hits[0].Score)
	}
}

func TestSearchDeterministic(t *testing.T) {
	files := map[string]string{
		"a.md": "# A\n\ncarrots here\n",
		"b.md": "# B\n\ncarrots there\n",
		"c.md": "# C\n\ncarrots everywhere\n",
	}
	engine, _ := testEngine(t, files)

	first, err := engine.Search(context.Background(), "carrots", 10, false, Filters{}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := engine.Search(context.Background(), "carrots", 10, false, Filters{}, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result size changed between runs: %d vs %d", len(again), len(first))
		}
		for j := range again {
			if again[j].Path != first[j].Path || again[j].StartByte != first[j].StartByte {
				t.Fatalf("ordering changed between identical runs at %d", j)
			}
		}
	}
}

func TestSearchTopKTruncation(t *testing.T) {
	engine, _ := testEngine(t, map[string]string{
		"a.md": "# A\n\ncarrots\n\ncarrots\n\ncarrots\n",
		"b.md": "# B\n\ncarrots\n",
	})

	hits, err := engine.Search(context.Background(), "carrots", 2, false, Filters{}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) > 2 {
		t.Errorf("got %d hits, want at most 2", len(hits))
	}
}

func TestSearchTagFilter(t *testing.T) {
	engine, _ := testEngine(t, map[string]string{
		"tagged.md": "---\ntags: [recipes]\n---\n# Tagged\n\ncarrots in scope\n",
		"plain.md":  "# Plain\n\ncarrots out of scope\n",
	})

	hits, err := engine.Search(context.Background(), "carrots", 10, false, Filters{Tags: []string{"recipes"}}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.Path != "tagged.md" {
			t.Errorf("hit %s leaked through the tag filter", h.Path)
		}
	}
	if len(hits) == 0 {
		t.Error("expected the tagged file to match")
	}
}

func TestSearchExpandLinks(t *testing.T) {
	cfg := testEngineConfig()
	cfg.HybridWeightLex = 1.0
	cfg.HybridWeightVec = 0.0
	engine, _ := testEngineWithConfig(t, map[string]string{
		"hub.md":   "# Hub\n\ncarrots and a link to [[spoke]]\n",
		"spoke.md": "# Spoke\n\nno query term here\n",
	}, cfg)

	hits, err := engine.Search(context.Background(), "carrots", 1, false, Filters{}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	var sawExpanded bool
	for i, h := range hits {
		if h.ExpandedContext {
			sawExpanded = true
			if h.Score != 0 {
				t.Errorf("expanded hit score = %v, want 0", h.Score)
			}
			if h.Path != "spoke.md" {
				t.Errorf("expanded hit = %s, want spoke.md", h.Path)
			}
		} else if sawExpanded {
			t.Errorf("primary hit at %d after expanded hits", i)
		}
	}
	if !sawExpanded {
		t.Error("expected an expanded-context hit")
	}
}

func TestSearchEqualScoreTieBreaks(t *testing.T) {
	// All three bodies carry the phrase once, so their fused scores are
	// equal and ordering falls to mtime descending, then path ascending.
	cfg := testEngineConfig()
	cfg.HybridWeightLex = 1.0
	cfg.HybridWeightVec = 0.0
	old := time.Now().Add(-72 * time.Hour)
	recent := time.Now().Add(-1 * time.Hour)
	engine, _ := testEngineAt(t, map[string]string{
		"alpha.md": "# Alpha\n\ncarrots here\n",
		"beta.md":  "# Beta\n\ncarrots here\n",
		"omega.md": "# Omega\n\ncarrots here\n",
	}, cfg, map[string]time.Time{
		"alpha.md": old,
		"beta.md":  recent,
		"omega.md": recent,
	})

	hits, err := engine.Search(context.Background(), "carrots", 10, false, Filters{}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) < 3 {
		t.Fatalf("got %d hits, want at least 3", len(hits))
	}
	if hits[0].Score != hits[1].Score || hits[1].Score != hits[2].Score {
		t.Fatalf("matching chunks should tie: %v %v %v", hits[0].Score, hits[1].Score, hits[2].Score)
	}
	// beta and omega share the newer mtime and order by path; alpha's older
	// mtime sorts it last of the three.
	want := []string{"beta.md", "omega.md", "alpha.md"}
	for i, p := range want {
		if hits[i].Path != p {
			t.Errorf("hits[%d] = %s, want %s", i, hits[i].Path, p)
		}
	}
}

func TestSearchPreferRecentRanksNewerFirst(t *testing.T) {
	cfg := testEngineConfig()
	cfg.HybridWeightLex = 1.0
	cfg.HybridWeightVec = 0.0
	stale := time.Now().Add(-40 * 24 * time.Hour)
	engine, _ := testEngineAt(t, map[string]string{
		"old.md": "# Old\n\nneedle phrase\n",
		"new.md": "# New\n\nneedle phrase\n",
	}, cfg, map[string]time.Time{
		"old.md": stale,
		"new.md": time.Now(),
	})

	hits, err := engine.Search(context.Background(), "needle", 10, true, Filters{}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) < 2 {
		t.Fatalf("got %d hits, want at least 2", len(hits))
	}
	if hits[0].Path != "new.md" {
		t.Errorf("top hit = %s, want new.md with the recency boost", hits[0].Path)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("boosted score %v not above %v", hits[0].Score, hits[1].Score)
	}
}

func TestSearchMissingPrerequisites(t *testing.T) {
	root := t.TempDir()
	fs, err := vault.NewFS(root, nil)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	db, err := index.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	provider, _ := embed.NewSHA256Embedder(8)
	engine := NewEngine(fs, db, provider, testEngineConfig())

	_, err = engine.Search(context.Background(), "anything", 10, false, Filters{}, 0)
	if !errors.Is(err, apperr.ErrMissingPrerequisite) {
		t.Fatalf("err = %v, want ErrMissingPrerequisite", err)
	}
}
