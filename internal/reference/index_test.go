package reference

import (
	"testing"
)

func TestBuildIndexSkipsExcludedAndOrdersByDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.go", "")
	writeFile(t, root, "a/z.go", "")
	writeFile(t, root, "node_modules/x/index.js", "")
	writeFile(t, root, ".git/HEAD", "")
	writeFile(t, root, ".env", "")
	writeFile(t, root, "d1/d2/d3/d4/d5/d6/deep.go", "")

	entries, err := BuildIndex(root)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	paths := make(map[string]bool)
	for _, e := range entries {
		paths[e.Path] = true
	}
	for _, p := range []string{"node_modules", ".git", ".env", "node_modules/x/index.js"} {
		if paths[p] {
			t.Errorf("excluded path %q indexed", p)
		}
	}
	if paths["d1/d2/d3/d4/d5/d6/deep.go"] {
		t.Error("entry beyond max depth indexed")
	}
	if !paths["d1/d2/d3/d4/d5/d6"] {
		t.Error("expected directory at max depth")
	}

	if entries[0].Path != "a" || !entries[0].IsDir {
		t.Errorf("first entry = %+v, want dir a", entries[0])
	}
	if entries[1].Path != "b.go" {
		t.Errorf("second entry = %+v, want b.go", entries[1])
	}
}

func TestSearch(t *testing.T) {
	entries := []Entry{
		{Path: "cmd"},
		{Path: "main.go"},
		{Path: "internal/turn/controller.go"},
		{Path: "internal/turn/controller_test.go"},
	}

	if got := Search(entries, "", 2); len(got) != 2 || got[0].Path != "cmd" {
		t.Errorf("empty query = %+v", got)
	}

	got := Search(entries, "ctrl", 10)
	if len(got) != 2 {
		t.Fatalf("fuzzy results = %+v", got)
	}
	for _, e := range got {
		if e.Path == "main.go" || e.Path == "cmd" {
			t.Errorf("unexpected match %q", e.Path)
		}
	}

	if got := Search(entries, "zzz", 10); len(got) != 0 {
		t.Errorf("expected no matches, got %+v", got)
	}
}

func TestIndexCachesUntilInvalidated(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one.go", "")

	idx := NewIndex(root)
	got, err := idx.Search("", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("Search = %+v, %v", got, err)
	}

	writeFile(t, root, "two.go", "")
	got, _ = idx.Search("", 10)
	if len(got) != 1 {
		t.Errorf("expected cached index, got %d entries", len(got))
	}

	idx.Invalidate()
	got, _ = idx.Search("", 10)
	if len(got) != 2 {
		t.Errorf("expected rebuilt index, got %d entries", len(got))
	}
}
