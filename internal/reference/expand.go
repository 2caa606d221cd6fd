// Package reference expands @path mentions in outgoing messages into file
// context and indexes the project tree for mention completion.
package reference

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// DefaultMaxBytes caps the content included for a single reference.
	DefaultMaxBytes = 50 * 1024
	// DefaultMaxFiles caps how many files one glob reference may pull in.
	DefaultMaxFiles = 20

	truncatedMarker = "\n... [truncated]"
)

// File is one file pulled into the outgoing message.
type File struct {
	Path      string
	Content   string
	Size      int64
	Truncated bool
}

// Expander resolves @path and @glob mentions relative to Root.
type Expander struct {
	Root     string
	MaxBytes int
	MaxFiles int
}

// NewExpander creates an expander rooted at dir. Non-positive limits fall
// back to the defaults.
func NewExpander(dir string, maxBytes, maxFiles int) *Expander {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &Expander{Root: dir, MaxBytes: maxBytes, MaxFiles: maxFiles}
}

// Expand returns text with the referenced files prepended as <file> blocks,
// along with the files that were included. References that cannot be read
// are left out; the mention itself stays in the text.
func (e *Expander) Expand(text string) (string, []File) {
	mentions := Mentions(text)
	if len(mentions) == 0 {
		return text, nil
	}

	seen := make(map[string]bool)
	var files []File
	for _, m := range mentions {
		for _, path := range e.resolve(m) {
			if seen[path] {
				continue
			}
			seen[path] = true
			f, err := e.read(path)
			if err != nil {
				continue
			}
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return text, nil
	}
	return Format(files) + text, files
}

// Format renders files as <file path="..."> blocks.
func Format(files []File) string {
	var sb strings.Builder
	for _, f := range files {
		sb.WriteString(fmt.Sprintf("<file path=\"%s\">\n", f.Path))
		sb.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("</file>\n\n")
	}
	return sb.String()
}

// Mentions extracts @tokens from text. A mention starts at the beginning of
// the text or after whitespace; trailing sentence punctuation is dropped.
func Mentions(text string) []string {
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' || (i > 0 && !unicode.IsSpace(runes[i-1])) {
			continue
		}
		j := i + 1
		for j < len(runes) && !unicode.IsSpace(runes[j]) {
			j++
		}
		token := strings.TrimRight(string(runes[i+1:j]), ".,;:!?)'\"")
		if token != "" {
			out = append(out, token)
		}
		i = j
	}
	return out
}

// resolve maps a mention to slash-separated paths relative to Root.
func (e *Expander) resolve(mention string) []string {
	mention = filepath.ToSlash(filepath.Clean(mention))
	if strings.HasPrefix(mention, "../") || mention == ".." {
		return nil
	}
	root := e.Root
	if root == "" {
		root = "."
	}
	fsys := os.DirFS(root)

	if !hasMeta(mention) {
		return []string{mention}
	}

	matches, err := doublestar.Glob(fsys, mention, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	if len(matches) > e.MaxFiles {
		matches = matches[:e.MaxFiles]
	}
	return matches
}

func (e *Expander) read(path string) (File, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(e.Root, filepath.FromSlash(path))
	}
	info, err := os.Stat(full)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(full)
	if err != nil {
		return File{}, err
	}
	defer f.Close()

	buf := make([]byte, e.MaxBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return File{}, err
	}
	buf = buf[:n]
	if isBinaryContent(buf) {
		return File{}, fmt.Errorf("%s is binary", path)
	}

	file := File{Path: path, Size: info.Size()}
	if n > e.MaxBytes || info.Size() > int64(e.MaxBytes) {
		file.Content = string(buf[:min(n, e.MaxBytes)]) + truncatedMarker
		file.Truncated = true
	} else {
		file.Content = string(buf)
	}
	return file, nil
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// isBinaryContent reports whether content looks binary (NUL in the first 8KB).
func isBinaryContent(content []byte) bool {
	checkLen := min(len(content), 8192)
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
