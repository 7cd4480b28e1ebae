package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func testVault(t *testing.T, files map[string]string, excludes []string) *FS {
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
	fs, err := NewFS(root, excludes)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestListSortedMarkdownOnly(t *testing.T) {
	fs := testVault(t, map[string]string{
		"b.md":        "b",
		"a.md":        "a",
		"sub/c.md":    "c",
		"ignored.txt": "nope",
	}, nil)

	infos, err := fs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a.md", "b.md", "sub/c.md"}
	if len(infos) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(infos))
	}
	for i, w := range want {
		if infos[i].Path != w {
			t.Errorf("infos[%d].Path = %q, want %q", i, infos[i].Path, w)
		}
	}
}

func TestListExcludeGlobs(t *testing.T) {
	fs := testVault(t, map[string]string{
		"keep.md":        "k",
		"drafts/tmp.md":  "d",
		"drafts/more.md": "d",
	}, []string{"drafts/*"})

	infos, err := fs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Path != "keep.md" {
		t.Fatalf("infos = %+v, want only keep.md", infos)
	}
}

func TestReadRejectsTraversal(t *testing.T) {
	fs := testVault(t, map[string]string{"a.md": "a"}, nil)

	if _, err := fs.Read("../outside.md"); err == nil {
		t.Error("expected error for path traversal")
	}
	if _, err := fs.Read("/etc/passwd"); err == nil {
		t.Error("expected error for absolute path")
	}
}

func TestReadRoundTrip(t *testing.T) {
	fs := testVault(t, map[string]string{"sub/note.md": "hello"}, nil)
	data, err := fs.Read("sub/note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Read = %q, want %q", data, "hello")
	}
}

func TestNewFSMissingRoot(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("expected error for missing root")
	}
}
