package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/stratuscode/stratus/internal/agent"
)

// EditFileTool implements the edit_file tool: a deterministic replacement
// of old_text with new_text inside one file.
type EditFileTool struct {
	ws        Workspace
	history   *FileHistory
	sessionID string
}

// NewEditFileTool creates an edit tool for the workspace.
func NewEditFileTool(ws Workspace) *EditFileTool {
	return &EditFileTool{ws: ws}
}

// WithHistory records every file the tool changes in h so the session can
// revert it.
func (t *EditFileTool) WithHistory(h *FileHistory, sessionID string) *EditFileTool {
	t.history, t.sessionID = h, sessionID
	return t
}

// EditFileArgs are the arguments for edit_file.
type EditFileArgs struct {
	FilePath   string `json:"file_path"`
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditFileTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name: EditFileToolName,
		Description: `Replace old_text with new_text in a file.
old_text must match exactly once unless replace_all is set. If no exact match
exists, lines are compared ignoring leading and trailing whitespace and the
replacement keeps the file's indentation of the first matched line.`,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file, relative to the project root",
				},
				"old_text": map[string]interface{}{
					"type":        "string",
					"description": "Text to find. Include enough context to be unique.",
				},
				"new_text": map[string]interface{}{
					"type":        "string",
					"description": "Text to replace old_text with",
				},
				"replace_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring a unique match",
				},
			},
			"required":             []string{"file_path", "old_text", "new_text"},
			"additionalProperties": false,
		},
	}
}

// editLocks serializes edits to the same file within the process.
var editLocks sync.Map

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a EditFileArgs
	warning, terr := decodeArgs(args, &a, "file_path", "old_text", "new_text", "replace_all")
	if terr != nil {
		return formatToolError(terr), nil
	}
	if a.FilePath == "" {
		return formatToolError(NewToolError(ErrInvalidParams, "file_path is required")), nil
	}
	if a.OldText == "" {
		return formatToolError(NewToolError(ErrInvalidParams, "old_text is required; use write_file to create files")), nil
	}
	if a.OldText == a.NewText {
		return formatToolError(NewToolError(ErrInvalidParams, "old_text and new_text are identical")), nil
	}

	absPath, terr := t.ws.Resolve(a.FilePath)
	if terr != nil {
		return formatToolError(terr), nil
	}

	mu, _ := editLocks.LoadOrStore(absPath, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return formatToolError(NewToolError(ErrFileNotFound, a.FilePath)), nil
		}
		return formatToolError(NewToolErrorf(ErrExecutionFailed, "stat error: %v", err)), nil
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return formatToolError(NewToolErrorf(ErrExecutionFailed, "read error: %v", err)), nil
	}
	if isBinaryContent(data) {
		return formatToolError(NewToolError(ErrBinaryFile, a.FilePath)), nil
	}
	content := string(data)

	updated, count, fuzzy, terr := replaceText(content, a.OldText, a.NewText, a.ReplaceAll)
	if terr != nil {
		return formatToolError(terr), nil
	}
	if t.history != nil {
		t.history.Record(t.sessionID, absPath)
	}
	if err := writeAtomic(absPath, []byte(updated), info.Mode(), false); err != nil {
		return formatToolError(NewToolError(ErrExecutionFailed, err.Error())), nil
	}

	var sb strings.Builder
	sb.WriteString(warning)
	fmt.Fprintf(&sb, "Edited %s: %d replacement", t.ws.Rel(absPath), count)
	if count != 1 {
		sb.WriteString("s")
	}
	if fuzzy {
		sb.WriteString(" (matched ignoring whitespace)")
	}
	fmt.Fprintf(&sb, ", %d lines -> %d lines.", countLines(content), countLines(updated))
	return sb.String(), nil
}

// replaceText applies the edit. It reports how many replacements were made
// and whether the whitespace-insensitive fallback was used.
func replaceText(content, oldText, newText string, all bool) (string, int, bool, *ToolError) {
	if n := strings.Count(content, oldText); n > 0 {
		if n > 1 && !all {
			return "", 0, false, NewToolErrorf(ErrInvalidParams, "old_text matches %d times; add context or set replace_all", n)
		}
		if all {
			return strings.ReplaceAll(content, oldText, newText), n, false, nil
		}
		return strings.Replace(content, oldText, newText, 1), 1, false, nil
	}

	lines := strings.Split(content, "\n")
	want := trimmedLines(oldText)
	if len(want) == 0 {
		return "", 0, false, NewToolError(ErrInvalidParams, "old_text contains only whitespace")
	}
	var starts []int
	for i := 0; i+len(want) <= len(lines); i++ {
		if linesMatch(lines[i:i+len(want)], want) {
			starts = append(starts, i)
			i += len(want) - 1
		}
	}
	switch {
	case len(starts) == 0:
		return "", 0, false, NewToolError(ErrExecutionFailed, "old_text not found")
	case len(starts) > 1 && !all:
		return "", 0, false, NewToolErrorf(ErrInvalidParams, "old_text matches %d times; add context or set replace_all", len(starts))
	}

	var out []string
	prev := 0
	for _, start := range starts {
		out = append(out, lines[prev:start]...)
		out = append(out, reindent(newText, leadingWhitespace(lines[start]))...)
		prev = start + len(want)
	}
	out = append(out, lines[prev:]...)
	return strings.Join(out, "\n"), len(starts), true, nil
}

func trimmedLines(s string) []string {
	lines := strings.Split(strings.Trim(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

func linesMatch(have, want []string) bool {
	for i := range want {
		if strings.TrimSpace(have[i]) != want[i] {
			return false
		}
	}
	return true
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// reindent shifts newText so its first line starts at indent, keeping the
// relative indentation of the following lines.
func reindent(newText, indent string) []string {
	lines := strings.Split(strings.Trim(newText, "\n"), "\n")
	if newText == "" {
		return nil
	}
	base := leadingWhitespace(lines[0])
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = indent + strings.TrimPrefix(l, base)
	}
	return lines
}
