package index

import (
	"context"
	"testing"

	"github.com/starford/raido/internal/vault"
)

// lexicalFixture indexes and chunks a small vault, returning the vault FS so
// tests can feed chunk text into the lexical search.
func lexicalFixture(t *testing.T) (*DB, *vault.FS) {
	t.Helper()
	root := t.TempDir()
	writeVaultFile(t, root, "alpha.md", "# Alpha\n\ncarrots and carrots again\n")
	writeVaultFile(t, root, "beta.md", "---\ndate: 2020-06-01\n---\n# Beta\n\none carrots mention\n")
	writeVaultFile(t, root, "gamma.md", "# Gamma\n\nnothing relevant\n")

	db := testDB(t)
	fs, err := vault.NewFS(root, nil)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	ix := NewIndexer(fs, db, testParserOpts, testLogger())
	if _, err := ix.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// One chunk per file spanning the whole body.
	for _, p := range []string{"alpha.md", "beta.md", "gamma.md"} {
		f, err := db.GetFile(p)
		if err != nil || f == nil {
			t.Fatalf("GetFile(%s): %v", p, err)
		}
		data, _ := fs.Read(p)
		err = db.ReplaceChunks(f.ID, "plan-"+p, []ChunkRowInput{{
			HeadingPath: "H1", Ord: 0, StartByte: 0, EndByte: len(data),
			TextHash: "t-" + p, ChunkID: "c-" + p, ChunkHash: "h-" + p,
		}})
		if err != nil {
			t.Fatalf("ReplaceChunks(%s): %v", p, err)
		}
	}
	if err := db.RebuildChunkFTS(fs.Read); err != nil {
		t.Fatalf("RebuildChunkFTS: %v", err)
	}
	return db, fs
}

func TestSearchChunksLexical(t *testing.T) {
	db, fs := lexicalFixture(t)

	hits, err := db.SearchChunksLexical(LexicalQuery{
		Query:  "carrots",
		Limit:  10,
		TextOf: fs.Read,
	})
	if err != nil {
		t.Fatalf("SearchChunksLexical: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Path == "gamma.md" {
			t.Error("gamma.md matched without the phrase")
		}
		if h.Raw <= 0 {
			t.Errorf("hit %s has non-positive raw score", h.Path)
		}
	}
}

func TestSearchChunksLexicalDateFilter(t *testing.T) {
	db, fs := lexicalFixture(t)

	// beta.md carries an explicit 2020 journal date; alpha.md falls back to
	// its (current) mtime-derived date and is filtered out.
	hits, err := db.SearchChunksLexical(LexicalQuery{
		Query:  "carrots",
		Limit:  10,
		DateTo: "2021-01-01",
		TextOf: fs.Read,
	})
	if err != nil {
		t.Fatalf("SearchChunksLexical: %v", err)
	}
	if len(hits) != 1 || hits[0].Path != "beta.md" {
		t.Fatalf("hits = %+v, want only beta.md", hits)
	}
}

func TestSearchChunksLexicalFileFilter(t *testing.T) {
	db, fs := lexicalFixture(t)
	alpha, _ := db.GetFile("alpha.md")

	hits, err := db.SearchChunksLexical(LexicalQuery{
		Query:          "carrots",
		Limit:          10,
		AllowedFileIDs: []int64{alpha.ID},
		TextOf:         fs.Read,
	})
	if err != nil {
		t.Fatalf("SearchChunksLexical: %v", err)
	}
	if len(hits) != 1 || hits[0].Path != "alpha.md" {
		t.Fatalf("hits = %+v, want only alpha.md", hits)
	}

	// Empty non-nil allow list means nothing is allowed.
	hits, err = db.SearchChunksLexical(LexicalQuery{
		Query:          "carrots",
		Limit:          10,
		AllowedFileIDs: []int64{},
		TextOf:         fs.Read,
	})
	if err != nil {
		t.Fatalf("SearchChunksLexical: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %+v, want none", hits)
	}
}

func TestSearchChunksLexicalLimit(t *testing.T) {
	db, fs := lexicalFixture(t)

	hits, err := db.SearchChunksLexical(LexicalQuery{
		Query:  "carrots",
		Limit:  1,
		TextOf: fs.Read,
	})
	if err != nil {
		t.Fatalf("SearchChunksLexical: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
}
