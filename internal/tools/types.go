// Package tools provides the workspace tools the agent can call.
package tools

import (
	"fmt"

	"github.com/stratuscode/stratus/internal/agent"
)

// ToolErrorType provides structured errors for agent retry logic.
type ToolErrorType string

const (
	ErrFileNotFound       ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams      ToolErrorType = "INVALID_PARAMS"
	ErrPathNotInWorkspace ToolErrorType = "PATH_NOT_IN_WORKSPACE"
	ErrExecutionFailed    ToolErrorType = "EXECUTION_FAILED"
	ErrPermissionDenied   ToolErrorType = "PERMISSION_DENIED"
	ErrBinaryFile         ToolErrorType = "BINARY_FILE"
	ErrTimeout            ToolErrorType = "TIMEOUT"
)

// ToolError provides structured error information for retry logic.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// formatToolError renders a ToolError as the JSON failure object the
// timeline marks as failed.
func formatToolError(err *ToolError) string {
	return agent.ErrorResult(string(err.Type), err.Message)
}

// Tool names
const (
	ReadFileToolName   = "read_file"
	WriteFileToolName  = "write_file"
	EditFileToolName   = "edit_file"
	ShellToolName      = "shell"
	GrepToolName       = "grep"
	GlobToolName       = "glob"
	PlanExitToolName   = "plan_exit"
	TodoWriteToolName  = "todo_write"
	TodoReadToolName   = "todo_read"
	QuestionToolName   = "question"
	CodeSearchToolName = "codesearch"
	RevertToolName     = "revert"
)

// OutputLimits defines limits for tool output.
type OutputLimits struct {
	MaxLines   int   // Max lines for read_file (default 2000)
	MaxBytes   int64 // Max bytes per tool output (default 50KB)
	MaxResults int   // Max results for grep/glob (default 100)
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:   2000,
		MaxBytes:   50 * 1024, // 50KB
		MaxResults: 100,
	}
}
