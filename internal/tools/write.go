package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stratuscode/stratus/internal/agent"
)

// WriteFileTool implements the write_file tool. When onlyPath is set the
// tool refuses every other destination; plan mode uses this to limit writes
// to the plan file.
type WriteFileTool struct {
	ws        Workspace
	onlyPath  string
	history   *FileHistory
	sessionID string
}

// NewWriteFileTool creates a write tool for the workspace.
func NewWriteFileTool(ws Workspace) *WriteFileTool {
	return &WriteFileTool{ws: ws}
}

// WithHistory records every file the tool changes in h so the session can
// revert it.
func (t *WriteFileTool) WithHistory(h *FileHistory, sessionID string) *WriteFileTool {
	t.history, t.sessionID = h, sessionID
	return t
}

// NewPlanWriteTool creates a write tool that may only write planFile.
func NewPlanWriteTool(planFile string) *WriteFileTool {
	return &WriteFileTool{ws: Workspace{Root: filepath.Dir(planFile)}, onlyPath: filepath.Clean(planFile)}
}

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (t *WriteFileTool) Spec() agent.ToolSpec {
	desc := "Write content to a file, creating parent directories as needed. Replaces the file if it exists."
	if t.onlyPath != "" {
		desc = "Write the plan file. In plan mode this is the only file you may write: " + t.onlyPath
	}
	return agent.ToolSpec{
		Name:        WriteFileToolName,
		Description: desc,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file, relative to the project root",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content",
				},
			},
			"required":             []string{"file_path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a WriteFileArgs
	warning, terr := decodeArgs(args, &a, "file_path", "content")
	if terr != nil {
		return formatToolError(terr), nil
	}
	if a.FilePath == "" {
		return formatToolError(NewToolError(ErrInvalidParams, "file_path is required")), nil
	}

	var absPath string
	if t.onlyPath != "" {
		if filepath.Clean(a.FilePath) != t.onlyPath {
			return formatToolError(NewToolErrorf(ErrPermissionDenied, "plan mode: only %s may be written", t.onlyPath)), nil
		}
		absPath = t.onlyPath
	} else {
		absPath, terr = t.ws.Resolve(a.FilePath)
		if terr != nil {
			return formatToolError(terr), nil
		}
	}

	existing := ""
	isNew := true
	var existingMode os.FileMode
	if info, err := os.Stat(absPath); err == nil {
		existingMode = info.Mode()
		if data, err := os.ReadFile(absPath); err == nil {
			existing = string(data)
			isNew = false
		}
	}

	if t.history != nil {
		t.history.Record(t.sessionID, absPath)
	}
	if err := writeAtomic(absPath, []byte(a.Content), existingMode, isNew); err != nil {
		return formatToolError(NewToolError(ErrExecutionFailed, err.Error())), nil
	}

	if isNew {
		return warning + fmt.Sprintf("Created new file: %s (%d lines).", t.ws.Rel(absPath), countLines(a.Content)), nil
	}
	return warning + fmt.Sprintf("Updated %s: %d lines -> %d lines.", t.ws.Rel(absPath), countLines(existing), countLines(a.Content)), nil
}

// writeAtomic writes to a uniquely-named temp file, then renames it over
// the destination.
func writeAtomic(path string, data []byte, existingMode os.FileMode, isNew bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tf, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tf.Name()

	if _, err := tf.Write(data); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tf.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// CreateTemp uses 0600, which is too restrictive for source files.
	mode := existingMode
	if isNew {
		mode = 0644
	}
	if err := os.Chmod(tempPath, mode); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// countLines counts the number of lines in a string.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		count++
	}
	return count
}
