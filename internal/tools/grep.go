package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stratuscode/stratus/internal/agent"
)

const grepContextLines = 2

// GrepTool implements the grep tool.
type GrepTool struct {
	ws     Workspace
	limits OutputLimits
}

// NewGrepTool creates a new GrepTool.
func NewGrepTool(ws Workspace, limits OutputLimits) *GrepTool {
	return &GrepTool{ws: ws, limits: limits}
}

// GrepArgs are the arguments for grep.
type GrepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	Include    string `json:"include,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// GrepMatch is a single matching line.
type GrepMatch struct {
	FilePath   string
	LineNumber int
	Context    string
}

func (t *GrepTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        GrepToolName,
		Description: "Search file contents using regex patterns (RE2 syntax). Returns matches with context.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Regular expression pattern to search for (RE2 syntax)",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File or directory to search in (defaults to the project root)",
				},
				"include": map[string]interface{}{
					"type":        "string",
					"description": "Glob filter for files, e.g., '*.go' or '*.{js,ts}'",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default: 100)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var a GrepArgs
	warning, terr := decodeArgs(args, &a, "pattern", "path", "include", "max_results")
	if terr != nil {
		return formatToolError(terr), nil
	}
	if a.Pattern == "" {
		return formatToolError(NewToolError(ErrInvalidParams, "pattern is required")), nil
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return formatToolError(NewToolErrorf(ErrInvalidParams, "invalid pattern: %v", err)), nil
	}

	base := a.Path
	if base == "" {
		base = "."
	}
	searchPath, terr := t.ws.Resolve(base)
	if terr != nil {
		return formatToolError(terr), nil
	}
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = t.limits.MaxResults
	}

	files, err := collectFiles(searchPath, a.Include)
	if err != nil {
		if os.IsNotExist(err) {
			return formatToolError(NewToolError(ErrFileNotFound, base)), nil
		}
		return formatToolError(NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)), nil
	}

	var matches []GrepMatch
	for _, file := range files {
		if ctx.Err() != nil {
			return formatToolError(NewToolError(ErrTimeout, "grep timed out after 1 minute; try a more specific pattern or path")), nil
		}
		found, err := searchFile(file, re, maxResults-len(matches))
		if err != nil {
			continue
		}
		for i := range found {
			found[i].FilePath = t.ws.Rel(found[i].FilePath)
		}
		matches = append(matches, found...)
		if len(matches) >= maxResults {
			break
		}
	}

	if len(matches) == 0 {
		return warning + "No matches found.", nil
	}
	return warning + formatGrepResults(matches, len(matches) >= maxResults), nil
}

// collectFiles lists the files under searchPath, skipping hidden entries.
func collectFiles(searchPath, include string) ([]string, error) {
	info, err := os.Stat(searchPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{searchPath}, nil
	}

	var files []string
	err = filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != searchPath && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if include != "" {
			if match, err := doublestar.Match(include, d.Name()); err != nil || !match {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// searchFile searches a single file for matches.
func searchFile(path string, re *regexp.Regexp, maxMatches int) ([]GrepMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) > 0 && isBinaryContent([]byte(strings.Join(lines[:min(len(lines), 20)], "\n"))) {
		return nil, fmt.Errorf("binary file")
	}

	var matches []GrepMatch
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		matches = append(matches, GrepMatch{
			FilePath:   path,
			LineNumber: i + 1,
			Context:    buildContext(lines, i, grepContextLines),
		})
		if len(matches) >= maxMatches {
			break
		}
	}
	return matches, nil
}

// buildContext builds context lines around a match.
func buildContext(lines []string, matchIdx, contextLines int) string {
	start := max(0, matchIdx-contextLines)
	end := min(len(lines), matchIdx+contextLines+1)

	var sb strings.Builder
	for i := start; i < end; i++ {
		prefix := "  "
		if i == matchIdx {
			prefix = "> "
		}
		fmt.Fprintf(&sb, "%s%d: %s\n", prefix, i+1, lines[i])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatGrepResults(matches []GrepMatch, truncated bool) string {
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "%s:%d\n", m.FilePath, m.LineNumber)
		sb.WriteString(m.Context)
		sb.WriteString("\n")
	}
	if truncated {
		sb.WriteString("\n[Results truncated at limit]")
	}
	return sb.String()
}
