package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/stratuscode/stratus/internal/agent"
)

// snapshot is a file as it was before the session first changed it.
type snapshot struct {
	existed bool
	data    []byte
	mode    os.FileMode
}

// FileHistory remembers the original content of every file a session's
// write and edit tools changed, so the user can revert them. It lives in
// memory only.
type FileHistory struct {
	mu       sync.Mutex
	sessions map[string]map[string]snapshot
}

// NewFileHistory creates an empty history.
func NewFileHistory() *FileHistory {
	return &FileHistory{sessions: make(map[string]map[string]snapshot)}
}

// Record snapshots path for sessionID unless it already has a snapshot.
// Call it before the first write.
func (h *FileHistory) Record(sessionID, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	files := h.sessions[sessionID]
	if files == nil {
		files = make(map[string]snapshot)
		h.sessions[sessionID] = files
	}
	if _, ok := files[path]; ok {
		return
	}
	snap := snapshot{}
	if info, err := os.Stat(path); err == nil {
		if data, err := os.ReadFile(path); err == nil {
			snap = snapshot{existed: true, data: data, mode: info.Mode()}
		}
	}
	files[path] = snap
}

// Revert restores the given paths, or every recorded path when none are
// given. Files the session created are removed. Restored paths are
// forgotten; the reverted paths are returned sorted.
func (h *FileHistory) Revert(sessionID string, paths ...string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	files := h.sessions[sessionID]
	if len(paths) == 0 {
		for p := range files {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var reverted []string
	var errs []error
	for _, p := range paths {
		snap, ok := files[p]
		if !ok {
			continue
		}
		var err error
		if snap.existed {
			err = writeAtomic(p, snap.data, snap.mode, false)
		} else if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("revert %s: %w", p, err))
			continue
		}
		delete(files, p)
		reverted = append(reverted, p)
	}
	return reverted, errors.Join(errs...)
}

// Forget drops the session's snapshots.
func (h *FileHistory) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// RevertTool restores the files a session changed. It is run by the user,
// not offered to the model.
type RevertTool struct {
	ws        Workspace
	history   *FileHistory
	sessionID string
}

// NewRevertTool creates the revert tool for a session.
func NewRevertTool(ws Workspace, history *FileHistory, sessionID string) *RevertTool {
	return &RevertTool{ws: ws, history: history, sessionID: sessionID}
}

// RevertArgs are the arguments for revert. An empty path reverts every
// changed file.
type RevertArgs struct {
	Path string `json:"path,omitempty"`
}

func (t *RevertTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        RevertToolName,
		Description: "Restore files changed in this session to their original content. Files created in the session are removed.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Revert only this file; all changed files when empty",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *RevertTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a RevertArgs
	warning, terr := decodeArgs(args, &a, "path")
	if terr != nil {
		return formatToolError(terr), nil
	}
	var paths []string
	if a.Path != "" {
		abs, terr := t.ws.Resolve(a.Path)
		if terr != nil {
			return formatToolError(terr), nil
		}
		paths = append(paths, abs)
	}

	reverted, err := t.history.Revert(t.sessionID, paths...)
	if err != nil {
		return formatToolError(NewToolError(ErrExecutionFailed, err.Error())), nil
	}
	if len(reverted) == 0 {
		return warning + "Nothing to revert.", nil
	}
	rel := make([]string, len(reverted))
	for i, p := range reverted {
		rel[i] = t.ws.Rel(p)
	}
	return warning + fmt.Sprintf("Reverted %d file(s):\n%s", len(rel), strings.Join(rel, "\n")), nil
}
