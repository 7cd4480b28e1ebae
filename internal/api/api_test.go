package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/raido/internal/ask"
	"github.com/starford/raido/internal/chunker"
	"github.com/starford/raido/internal/embed"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/search"
	"github.com/starford/raido/internal/vault"
)

// testEnv sets up a temp vault, index DB, engine, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string, files map[string]string) http.Handler {
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
	indexer := index.NewIndexer(fs, db, popts, logger)
	if _, err := indexer.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	provider, err := embed.NewSHA256Embedder(8)
	if err != nil {
		t.Fatalf("NewSHA256Embedder: %v", err)
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

	h := NewHandler(engine, pipeline, indexer, db, 10)
	return NewRouter(h, authToken != "", authToken)
}

func TestSearchEndpoint(t *testing.T) {
	router := testEnv(t, "", map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
	})

	req := httptest.NewRequest(http.MethodGet, "/search?q=carrots", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Hits []search.Hit `json:"hits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Hits) == 0 || resp.Hits[0].Path != "cooking.md" {
		t.Errorf("hits = %+v", resp.Hits)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	router := testEnv(t, "", map[string]string{"a.md": "# A\n\nbody\n"})

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearchEmptyIndexConflict(t *testing.T) {
	router := testEnv(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/search?q=x", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for an empty index", w.Code)
	}
}

func TestAskEndpoint(t *testing.T) {
	router := testEnv(t, "", map[string]string{
		"cooking.md": "# Cooking\n\nroasting carrots with cumin\n",
	})

	body, _ := json.Marshal(map[string]any{"query": "carrots"})
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var res ask.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Answer == "" || len(res.Citations) == 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestAskRejectsBadBody(t *testing.T) {
	router := testEnv(t, "", map[string]string{"a.md": "# A\n\nbody\n"})

	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", w.Code)
	}

	body, _ := json.Marshal(map[string]any{"graph": true})
	req = httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", w.Code)
	}
}

func TestReindexEndpoint(t *testing.T) {
	router := testEnv(t, "", map[string]string{"a.md": "# A\n\nbody\n"})

	req := httptest.NewRequest(http.MethodPost, "/reindex", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var summary index.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Scanned != 1 {
		t.Errorf("summary = %+v, want one file scanned", summary)
	}
}

func TestBacklinksEndpoint(t *testing.T) {
	router := testEnv(t, "", map[string]string{
		"hub.md": "# Hub\n\nbody\n",
		"fan.md": "# Fan\n\npoints at [[hub]]\n",
	})

	req := httptest.NewRequest(http.MethodGet, "/backlinks?title=hub", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Title     string   `json:"title"`
		Backlinks []string `json:"backlinks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Backlinks) != 1 || resp.Backlinks[0] != "fan.md" {
		t.Errorf("backlinks = %v, want [fan.md]", resp.Backlinks)
	}

	// path= resolves through the title derivation.
	req = httptest.NewRequest(http.MethodGet, "/backlinks?path=hub.md", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("path lookup status = %d", w.Code)
	}

	// No match returns an empty list, not null.
	req = httptest.NewRequest(http.MethodGet, "/backlinks?title=nothing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"backlinks":[]`)) {
		t.Errorf("body = %s, want empty backlinks array", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/backlinks", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing title status = %d, want 400", w.Code)
	}
}

func TestAuthTokenMode(t *testing.T) {
	router := testEnv(t, "secret", map[string]string{"a.md": "# A\n\nbody\n"})

	req := httptest.NewRequest(http.MethodGet, "/search?q=body", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/search?q=body", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/search?q=body", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}
