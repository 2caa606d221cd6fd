package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/reference"
)

// ReindexQuery is the query clients send with reindex to only rebuild the
// index.
const ReindexQuery = "__reindex__"

// maxSearchFileSize skips large files when scanning contents.
const maxSearchFileSize = 1 << 20

// CodeSearchTool finds files by fuzzy path match and lines containing the
// query, using the project file index.
type CodeSearchTool struct {
	ws     Workspace
	index  *reference.Index
	limits OutputLimits
}

// NewCodeSearchTool creates the codesearch tool over index.
func NewCodeSearchTool(ws Workspace, index *reference.Index, limits OutputLimits) *CodeSearchTool {
	return &CodeSearchTool{ws: ws, index: index, limits: limits}
}

// CodeSearchArgs are the arguments for codesearch.
type CodeSearchArgs struct {
	Query      string `json:"query"`
	Reindex    bool   `json:"reindex,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (t *CodeSearchTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name: CodeSearchToolName,
		Description: `Search the project for a term. Returns files whose path fuzzily matches and lines that contain
the term (case-insensitive). Set reindex to rebuild the file index first, e.g. after many files changed.`,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Identifier, phrase or file name to look for",
				},
				"reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "Rebuild the file index before searching",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results per section (default: 100)",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}
}

func (t *CodeSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a CodeSearchArgs
	warning, terr := decodeArgs(args, &a, "query", "reindex", "max_results")
	if terr != nil {
		return formatToolError(terr), nil
	}
	if a.Reindex {
		t.index.Invalidate()
	}
	entries, err := t.index.Entries()
	if err != nil {
		return formatToolError(NewToolErrorf(ErrExecutionFailed, "index %s: %v", t.ws.Root, err)), nil
	}

	query := strings.TrimSpace(a.Query)
	if a.Reindex && (query == "" || query == ReindexQuery) {
		return warning + fmt.Sprintf("Reindexed %d paths.", len(entries)), nil
	}
	if query == "" {
		return formatToolErrorf(ErrInvalidParams, "query is required"), nil
	}

	limit := a.MaxResults
	if limit <= 0 || (t.limits.MaxResults > 0 && limit > t.limits.MaxResults) {
		limit = t.limits.MaxResults
	}
	if limit <= 0 {
		limit = DefaultOutputLimits().MaxResults
	}

	var sb strings.Builder
	files := reference.Search(entries, query, limit)
	if len(files) > 0 {
		sb.WriteString("Files:\n")
		for _, e := range files {
			sb.WriteString(e.Path)
			if e.IsDir {
				sb.WriteString("/")
			}
			sb.WriteString("\n")
		}
	}

	lines, truncated := t.scanContents(ctx, entries, query, limit)
	if len(lines) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Matches:\n")
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteString("\n")
		}
		if truncated {
			fmt.Fprintf(&sb, "(showing first %d matches)\n", limit)
		}
	}
	if sb.Len() == 0 {
		return warning + fmt.Sprintf("No results for %q.", query), nil
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if t.limits.MaxBytes > 0 && int64(len(out)) > t.limits.MaxBytes {
		out = out[:t.limits.MaxBytes] + "\n[output truncated]"
	}
	return warning + out, nil
}

func (t *CodeSearchTool) scanContents(ctx context.Context, entries []reference.Entry, query string, limit int) (lines []string, truncated bool) {
	needle := []byte(strings.ToLower(query))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if ctx.Err() != nil {
			return lines, true
		}
		path := filepath.Join(t.ws.Root, filepath.FromSlash(e.Path))
		info, err := os.Stat(path)
		if err != nil || info.Size() > maxSearchFileSize {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || isBinaryContent(data) {
			continue
		}
		if !bytes.Contains(bytes.ToLower(data), needle) {
			continue
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 64*1024), maxSearchFileSize)
		n := 0
		for sc.Scan() {
			n++
			if !bytes.Contains(bytes.ToLower(sc.Bytes()), needle) {
				continue
			}
			if len(lines) >= limit {
				return lines, true
			}
			lines = append(lines, fmt.Sprintf("%s:%d: %s", e.Path, n, strings.TrimSpace(sc.Text())))
		}
	}
	return lines, false
}
