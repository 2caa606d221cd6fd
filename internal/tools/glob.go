package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stratuscode/stratus/internal/agent"
)

// GlobTool implements the glob tool.
type GlobTool struct {
	ws     Workspace
	limits OutputLimits
}

// NewGlobTool creates a new GlobTool.
func NewGlobTool(ws Workspace, limits OutputLimits) *GlobTool {
	return &GlobTool{ws: ws, limits: limits}
}

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// FileEntry represents a file in glob results.
type FileEntry struct {
	FilePath  string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

func (t *GlobTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching). Returns file metadata sorted by modification time.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern, e.g. '**/*.go' or 'cmd/*'",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory to search in (defaults to the project root)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var a GlobArgs
	warning, terr := decodeArgs(args, &a, "pattern", "path")
	if terr != nil {
		return formatToolError(terr), nil
	}
	if a.Pattern == "" {
		return formatToolError(NewToolError(ErrInvalidParams, "pattern is required")), nil
	}
	if !doublestar.ValidatePattern(a.Pattern) {
		return formatToolError(NewToolErrorf(ErrInvalidParams, "invalid pattern %q", a.Pattern)), nil
	}

	base := a.Path
	if base == "" {
		base = "."
	}
	absBase, terr := t.ws.Resolve(base)
	if terr != nil {
		return formatToolError(terr), nil
	}

	var entries []FileEntry
	limit := t.limits.MaxResults
	err := filepath.WalkDir(absBase, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if path != absBase && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(absBase, path)
		if err != nil || rel == "." {
			return nil
		}
		if matched, _ := doublestar.Match(a.Pattern, filepath.ToSlash(rel)); !matched {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{
			FilePath:  t.ws.Rel(path),
			IsDir:     d.IsDir(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		if len(entries) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return formatToolError(NewToolError(ErrTimeout, "glob timed out after 1 minute; try a narrower path")), nil
		}
		if os.IsNotExist(err) {
			return formatToolError(NewToolError(ErrFileNotFound, base)), nil
		}
		return formatToolError(NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)), nil
	}

	// newest first
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	if len(entries) == 0 {
		return warning + "No files matched the pattern.", nil
	}
	return warning + formatGlobResults(entries, len(entries) >= limit), nil
}

func formatGlobResults(entries []FileEntry, truncated bool) string {
	var sb strings.Builder
	for _, e := range entries {
		typeIndicator := "f"
		if e.IsDir {
			typeIndicator = "d"
		}
		fmt.Fprintf(&sb, "[%s] %s  %s  %s\n", typeIndicator, formatSize(e.SizeBytes), e.ModTime.Format("2006-01-02 15:04"), e.FilePath)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated at %d files]", len(entries))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatSize formats a byte count as human-readable.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
