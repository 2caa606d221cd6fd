package reference

import (
	"os"
	"path/filepath"
	"reflect"
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

func TestMentions(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"look at @main.go please", []string{"main.go"}},
		{"@a.go, @b.go.", []string{"a.go", "b.go"}},
		{"mail me at bob@example.com", nil},
		{"glob @internal/**/*.go", []string{"internal/**/*.go"}},
		{"lonely @ sign", nil},
	}
	for _, tt := range tests {
		got := Mentions(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Mentions(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpandPrependsFileBlocks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	e := NewExpander(root, 0, 0)
	out, files := e.Expand("explain @main.go")

	if len(files) != 1 || files[0].Path != "main.go" {
		t.Fatalf("files = %+v", files)
	}
	want := "<file path=\"main.go\">\npackage main\n</file>\n\nexplain @main.go"
	if out != want {
		t.Errorf("Expand() = %q, want %q", out, want)
	}
}

func TestExpandSkipsUnreadableReferences(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.txt", "fine")
	writeFile(t, root, "bin.dat", "a\x00b")
	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	e := NewExpander(root, 0, 0)
	out, files := e.Expand("@missing.txt @bin.dat @dir @ok.txt @../escape")

	if len(files) != 1 || files[0].Path != "ok.txt" {
		t.Fatalf("files = %+v", files)
	}
	if !strings.HasSuffix(out, "@missing.txt @bin.dat @dir @ok.txt @../escape") {
		t.Errorf("original text not preserved: %q", out)
	}
}

func TestExpandNoReferencesReturnsInput(t *testing.T) {
	e := NewExpander(t.TempDir(), 0, 0)
	out, files := e.Expand("@nothing-here")
	if out != "@nothing-here" || files != nil {
		t.Errorf("Expand() = %q, %v", out, files)
	}
}

func TestExpandTruncatesLargeFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", strings.Repeat("x", 100))

	e := NewExpander(root, 10, 0)
	_, files := e.Expand("@big.txt")

	if len(files) != 1 {
		t.Fatalf("files = %+v", files)
	}
	f := files[0]
	if !f.Truncated || f.Content != strings.Repeat("x", 10)+truncatedMarker {
		t.Errorf("file = %+v", f)
	}
	if f.Size != 100 {
		t.Errorf("size = %d, want 100", f.Size)
	}
}

func TestExpandGlobDedupesAndCaps(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/a.go", "a")
	writeFile(t, root, "pkg/sub/b.go", "b")
	writeFile(t, root, "pkg/sub/c.go", "c")
	writeFile(t, root, "pkg/readme.md", "r")

	e := NewExpander(root, 0, 2)
	_, files := e.Expand("@pkg/**/*.go @pkg/a.go")

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	want := []string{"pkg/a.go", "pkg/sub/b.go"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}
