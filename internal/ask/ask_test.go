package ask

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/raido/internal/chunker"
	"github.com/starford/raido/internal/embed"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/search"
	"github.com/starford/raido/internal/session"
	"github.com/starford/raido/internal/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newPipeline builds a fully indexed and embedded vault behind an ask
// pipeline with session continuity and a temp traces directory.
func newPipeline(t *testing.T, files map[string]string, adjust ...func(*Config)) (*Pipeline, *session.Store, string) {
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
	}
	fs, err := vault.NewFS(root, nil)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
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
	ccfg := chunker.Config{MaxBytes: 4000, SplitStrategy: chunker.SplitParagraphThenWindow}
	runner := embed.NewRunner(fs, db, provider, ccfg, "dummy-sha256", testLogger())
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

	sessions, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("session Open: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	traces := filepath.Join(t.TempDir(), "traces")
	cfg := Config{
		TopK:              10,
		PerFileCap:        3,
		PackedMaxChars:    8000,
		TracesDir:         traces,
		IncludeWhy:        true,
		GraphExpandCap:    10,
		SessionQueriesCap: 20,
		SessionSourcesCap: 30,
		Temporal: TemporalConfig{
			DefaultMode:       ModeHybrid,
			WindowRecentDays:  14,
			WindowMonthDays:   31,
			WindowYearDays:    366,
			DecayHalfLifeDays: 30,
			WeightJournal:     0.3,
			WeightEvergreen:   0.1,
		},
		Excerpt:   excerpt,
		VaultRoot: root,
		DBPath:    "index.db",
	}
	for _, f := range adjust {
		f(&cfg)
	}
	return NewPipeline(fs, db, engine, sessions, cfg, testLogger()), sessions, traces
}

func TestAskProducesAnswerAndTrace(t *testing.T) {
	p, _, traces := newPipeline(t, map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
	})

	res, err := p.Ask(context.Background(), Options{Query: "carrots"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.HasPrefix(res.Answer, "Q: carrots\n") {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Citations) == 0 || res.Citations[0].Path != "cooking.md" {
		t.Errorf("citations = %+v", res.Citations)
	}
	if res.TemporalMode != ModeHybrid {
		t.Errorf("temporal mode = %q, want default hybrid", res.TemporalMode)
	}
	if res.SessionID != "" {
		t.Errorf("session id = %q, want none without --session", res.SessionID)
	}
	if _, err := os.Stat(res.TracePath); err != nil {
		t.Errorf("trace file missing: %v", err)
	}
	entries, err := os.ReadDir(traces)
	if err != nil || len(entries) != 1 {
		t.Errorf("traces dir = %d entries, err %v", len(entries), err)
	}
}

func TestAskNoPackableEvidence(t *testing.T) {
	// A budget below the cost of any single excerpt packs nothing, which
	// renders the no-matches answer.
	p, _, _ := newPipeline(t, map[string]string{
		"a.md": "# A\n\nnothing relevant\n",
	}, func(cfg *Config) { cfg.PackedMaxChars = 1 })

	res, err := p.Ask(context.Background(), Options{Query: "zzzqqq"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(res.Answer, "No matches found in the vault index for this query.") {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Citations) != 0 {
		t.Errorf("citations = %+v, want none", res.Citations)
	}
}

func TestAskSessionContinuity(t *testing.T) {
	p, sessions, _ := newPipeline(t, map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
	})

	res, err := p.Ask(context.Background(), Options{Query: "carrots", UseSession: true})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("expected a session id")
	}

	sess, err := sessions.Get(res.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Queries) != 1 || sess.Queries[0].Query != "carrots" {
		t.Errorf("session queries = %+v", sess.Queries)
	}
	if len(sess.SelectedSources) == 0 {
		t.Error("session recorded no selected sources")
	}

	// A second ask in the same session pins the prior citations back in.
	res2, err := p.Ask(context.Background(), Options{Query: "carrots", UseSession: true})
	if err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if res2.SessionID != res.SessionID {
		t.Errorf("session id changed: %q vs %q", res2.SessionID, res.SessionID)
	}
	sess, err = sessions.Get(res.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Queries) != 2 {
		t.Errorf("session has %d queries, want 2", len(sess.Queries))
	}
}

func TestAskUnknownExplicitSession(t *testing.T) {
	p, _, _ := newPipeline(t, map[string]string{
		"a.md": "# A\n\nbody\n",
	})
	_, err := p.Ask(context.Background(), Options{Query: "body", SessionID: "s_missing_1"})
	if err == nil {
		t.Fatal("expected an error for an unknown explicit session")
	}
}

func TestAskGraphExpansion(t *testing.T) {
	// TopK 1 keeps spoke.md out of the primary hits so it can only arrive
	// through link-graph expansion.
	p, _, _ := newPipeline(t, map[string]string{
		"hub.md":   "# Hub\n\ncarrots link to [[spoke]]\n",
		"spoke.md": "# Spoke\n\nneighboring context only\n",
	}, func(cfg *Config) { cfg.TopK = 1 })

	res, err := p.Ask(context.Background(), Options{Query: "carrots", Graph: true})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	var sawSpoke bool
	for _, pe := range res.Packed {
		if pe.Citation.Path == "spoke.md" && pe.ExpandedContext {
			sawSpoke = true
		}
	}
	if !sawSpoke {
		t.Errorf("packed = %+v, want an expanded spoke.md excerpt", res.Packed)
	}
}

func TestAskQuietSuppressesWhy(t *testing.T) {
	p, _, _ := newPipeline(t, map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
	})
	res, err := p.Ask(context.Background(), Options{Query: "carrots", Quiet: true})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if strings.Contains(res.Answer, "Why these sources:") {
		t.Error("quiet answer still carries the why section")
	}
	if len(res.WhyTheseSources) != 0 {
		t.Errorf("why = %v, want empty in quiet mode", res.WhyTheseSources)
	}
}
