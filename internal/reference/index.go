package reference

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
)

// maxIndexDepth bounds how deep BuildIndex descends below the root.
const maxIndexDepth = 6

var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
	".cache":       true,
	".turbo":       true,
	".output":      true,
	".nuxt":        true,
	"coverage":     true,
	"__pycache__":  true,
	".stratus":     true,
	".vscode":      true,
	".idea":        true,
	"vendor":       true,
}

// Entry is one indexed path, relative to the project root.
type Entry struct {
	Path  string `json:"relativePath"`
	IsDir bool   `json:"isDir"`
}

// entrySource implements fuzzy.Source over index entries.
type entrySource []Entry

func (s entrySource) String(i int) string { return s[i].Path }
func (s entrySource) Len() int            { return len(s) }

// BuildIndex walks root and returns every non-hidden, non-excluded path up
// to a fixed depth, ordered by depth and then path.
func BuildIndex(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || excludedDirs[name] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/") + 1
		if depth > maxIndexDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, Entry{Path: rel, IsDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		di := strings.Count(entries[i].Path, "/")
		dj := strings.Count(entries[j].Path, "/")
		if di != dj {
			return di < dj
		}
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

// Search returns up to limit entries matching query. An empty query returns
// the shallowest entries; otherwise fuzzy matches are ranked by score.
func Search(entries []Entry, query string, limit int) []Entry {
	if limit <= 0 {
		limit = 50
	}
	if query == "" {
		return append([]Entry(nil), entries[:min(limit, len(entries))]...)
	}

	matches := fuzzy.FindFrom(query, entrySource(entries))
	out := make([]Entry, 0, min(limit, len(matches)))
	for _, m := range matches {
		out = append(out, entries[m.Index])
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Index lazily builds and caches the file index of a project directory.
type Index struct {
	mu      sync.Mutex
	root    string
	entries []Entry
	built   bool
}

// NewIndex creates an index for root. Nothing is read until the first Search.
func NewIndex(root string) *Index {
	return &Index{root: root}
}

// Search queries the index, building it on first use.
func (x *Index) Search(query string, limit int) ([]Entry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.buildLocked(); err != nil {
		return nil, err
	}
	return Search(x.entries, query, limit), nil
}

// Entries returns every indexed path, building the index on first use.
func (x *Index) Entries() ([]Entry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.buildLocked(); err != nil {
		return nil, err
	}
	return append([]Entry(nil), x.entries...), nil
}

func (x *Index) buildLocked() error {
	if x.built {
		return nil
	}
	entries, err := BuildIndex(x.root)
	if err != nil {
		return err
	}
	x.entries = entries
	x.built = true
	return nil
}

// Invalidate drops the cached index so the next Search rebuilds it.
func (x *Index) Invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = nil
	x.built = false
}
