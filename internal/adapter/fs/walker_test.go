package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func relPaths(t *testing.T, root string, w *Walker) []string {
	t.Helper()
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	abs, _ := filepath.Abs(root)
	var out []string
	for _, f := range files {
		rel, err := filepath.Rel(abs, f.Path)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestWalker_IncludesAndExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes/today.md", "sky")
	writeFile(t, root, "notes/todo.txt", "milk")
	writeFile(t, root, "notes/image.png", "binary")
	writeFile(t, root, ".git/HEAD.md", "ref")
	writeFile(t, root, "a/node_modules/pkg/readme.md", "skip")

	w := NewWalker([]string{"**/*.md", "**/*.txt"}, []string{"**/.git/**", "**/node_modules/**"}, 0)
	got := relPaths(t, root, w)

	want := []string{"notes/today.md", "notes/todo.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestWalker_OverlappingIncludesDeduplicate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "journal.md", "entry")

	w := NewWalker([]string{"**/*.md", "*.md"}, nil, 0)
	if got := relPaths(t, root, w); len(got) != 1 {
		t.Errorf("expected one file, got %v", got)
	}
}

func TestWalker_MaxSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.md", "tiny")
	writeFile(t, root, "big.md", strings.Repeat("x", 100))

	w := NewWalker([]string{"**/*.md"}, nil, 10)
	got := relPaths(t, root, w)
	if len(got) != 1 || got[0] != "small.md" {
		t.Errorf("expected only small.md, got %v", got)
	}
}

func TestWalker_FileRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "single.bin", "data")

	w := NewWalker([]string{"**/*.md"}, nil, 0)
	files, err := w.Walk(filepath.Join(root, "single.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Size != 4 {
		t.Errorf("expected the file root itself, got %+v", files)
	}
}

func TestWalker_MissingRoot(t *testing.T) {
	w := NewWalker(nil, nil, 0)
	if _, err := w.Walk(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing root")
	}
}
