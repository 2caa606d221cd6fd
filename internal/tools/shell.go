package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/stratuscode/stratus/internal/agent"
)

const (
	defaultShellTimeout = 30
	maxShellTimeout     = 300
)

// ShellTool implements the shell tool. Commands run in the workspace root
// or a directory below it.
type ShellTool struct {
	ws     Workspace
	limits OutputLimits
}

// NewShellTool creates a shell tool for the workspace.
func NewShellTool(ws Workspace, limits OutputLimits) *ShellTool {
	return &ShellTool{ws: ws, limits: limits}
}

// ShellArgs are the arguments for the shell tool.
type ShellArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ShellResult contains the result of a shell command.
type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (t *ShellTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        ShellToolName,
		Description: "Execute a shell command in the project. Returns stdout, stderr, and exit code.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"working_dir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory relative to the project root (defaults to the root)",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Command timeout in seconds (default: %d, max: %d)", defaultShellTimeout, maxShellTimeout),
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ShellArgs
	warning, terr := decodeArgs(args, &a, "command", "working_dir", "timeout_seconds")
	if terr != nil {
		return formatToolError(terr), nil
	}
	if strings.TrimSpace(a.Command) == "" {
		return formatToolError(NewToolError(ErrInvalidParams, "command is required")), nil
	}

	timeout := defaultShellTimeout
	if a.TimeoutSeconds > 0 {
		timeout = min(a.TimeoutSeconds, maxShellTimeout)
	}

	workDir := t.ws.Root
	if a.WorkingDir != "" {
		workDir, terr = t.ws.Resolve(a.WorkingDir)
		if terr != nil {
			return formatToolError(terr), nil
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", a.Command)
	cmd.Dir = workDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ShellResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return formatToolError(NewToolErrorf(ErrTimeout, "command timed out after %ds: %s",
			timeout, truncateCommand(a.Command))), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return formatToolError(NewToolErrorf(ErrExecutionFailed, "command error: %v", err)), nil
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return warning + formatShellResult(result, t.limits), nil
}

// formatShellResult formats the shell result for the model.
func formatShellResult(result ShellResult, limits OutputLimits) string {
	var sb strings.Builder

	stdout := result.Stdout
	stderr := result.Stderr
	truncated := false
	if limits.MaxBytes > 0 && int64(len(stdout)) > limits.MaxBytes {
		stdout = stdout[:limits.MaxBytes]
		truncated = true
	}
	if limits.MaxBytes > 0 && int64(len(stderr)) > limits.MaxBytes {
		stderr = stderr[:limits.MaxBytes]
		truncated = true
	}

	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("\nexit_code: %d", result.ExitCode))
	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}
	return sb.String()
}

func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
