package tools

import (
	"net/http"
	"path/filepath"
	"strings"
)

// Workspace confines tool paths to a project directory.
type Workspace struct {
	Root string
}

// Resolve turns a tool-supplied path into an absolute path inside the
// workspace. Relative paths are taken from the root.
func (w Workspace) Resolve(path string) (string, *ToolError) {
	if path == "" {
		return "", NewToolError(ErrInvalidParams, "path is required")
	}
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "cannot resolve workspace: %v", err)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", NewToolErrorf(ErrPathNotInWorkspace, "%s is outside %s", path, root)
	}
	return abs, nil
}

// Rel returns path relative to the workspace root when possible.
func (w Workspace) Rel(path string) string {
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

// isBinaryContent detects if content is binary using http.DetectContentType.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}

	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") {
		return false
	}
	// application/json, application/xml, etc. are text-like
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}

	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
