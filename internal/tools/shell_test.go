package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stratuscode/stratus/internal/tooltrack"
)

func TestShellTool_Spec(t *testing.T) {
	tool := NewShellTool(Workspace{Root: t.TempDir()}, DefaultOutputLimits())
	spec := tool.Spec()

	if spec.Name != ShellToolName {
		t.Errorf("expected name %q, got %q", ShellToolName, spec.Name)
	}
	props, ok := spec.Schema["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("schema should have properties")
	}
	for _, p := range []string{"command", "working_dir", "timeout_seconds"} {
		if _, ok := props[p]; !ok {
			t.Errorf("schema should have %s property", p)
		}
	}
	required, _ := spec.Schema["required"].([]string)
	if len(required) != 1 || required[0] != "command" {
		t.Errorf("required = %v, want [command]", required)
	}
}

func TestShellTool_Execute(t *testing.T) {
	tool := NewShellTool(Workspace{Root: t.TempDir()}, DefaultOutputLimits())

	tests := []struct {
		name     string
		args     json.RawMessage
		wantOut  string // substring expected in output
		wantExit string // exit code substring
		wantErr  string // error substring (empty = no error)
	}{
		{
			name:     "successful command",
			args:     mustMarshalShellArgs(ShellArgs{Command: "echo hello"}),
			wantOut:  "stdout:\nhello\n",
			wantExit: "exit_code: 0",
		},
		{
			name:     "command with stderr",
			args:     mustMarshalShellArgs(ShellArgs{Command: "echo err >&2"}),
			wantOut:  "stderr:\nerr\n",
			wantExit: "exit_code: 0",
		},
		{
			name:     "non-zero exit code",
			args:     mustMarshalShellArgs(ShellArgs{Command: "exit 42"}),
			wantExit: "exit_code: 42",
		},
		{
			name:    "missing command param",
			args:    mustMarshalShellArgs(ShellArgs{Command: "  "}),
			wantErr: "command is required",
		},
		{
			name:    "invalid JSON args",
			args:    json.RawMessage(`{invalid}`),
			wantErr: string(ErrInvalidParams),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if tt.wantErr != "" {
				if tooltrack.DeriveStatus(text) != tooltrack.StatusFailed || !strings.Contains(text, tt.wantErr) {
					t.Errorf("expected failure containing %q, got: %s", tt.wantErr, text)
				}
				return
			}
			if tooltrack.DeriveStatus(text) != tooltrack.StatusCompleted {
				t.Errorf("expected completed result, got: %s", text)
			}
			if tt.wantOut != "" && !strings.Contains(text, tt.wantOut) {
				t.Errorf("expected output containing %q, got: %s", tt.wantOut, text)
			}
			if tt.wantExit != "" && !strings.Contains(text, tt.wantExit) {
				t.Errorf("expected %q in output, got: %s", tt.wantExit, text)
			}
		})
	}
}

func TestShellTool_WorkingDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "f.txt"), "hello")
	tool := NewShellTool(Workspace{Root: root}, DefaultOutputLimits())

	out := run(t, tool, ShellArgs{Command: "cat f.txt"})
	if !strings.Contains(out, "exit_code: 1") {
		t.Errorf("default dir should be the root, got: %s", out)
	}

	out = run(t, tool, ShellArgs{Command: "cat f.txt", WorkingDir: "sub"})
	if !strings.Contains(out, "stdout:\nhello\n") {
		t.Errorf("expected file content from sub, got: %s", out)
	}

	out = run(t, tool, ShellArgs{Command: "pwd", WorkingDir: "../.."})
	if !strings.Contains(out, string(ErrPathNotInWorkspace)) {
		t.Errorf("expected workspace failure, got: %s", out)
	}
}

func TestShellTool_Timeout(t *testing.T) {
	tool := NewShellTool(Workspace{Root: t.TempDir()}, DefaultOutputLimits())

	t.Run("timeout clamped to max", func(t *testing.T) {
		out := run(t, tool, ShellArgs{Command: "echo ok", TimeoutSeconds: 500})
		if !strings.Contains(out, "ok") {
			t.Errorf("expected 'ok' in output, got: %s", out)
		}
	})

	t.Run("command times out", func(t *testing.T) {
		out := run(t, tool, ShellArgs{Command: "sleep 10", TimeoutSeconds: 1})
		if tooltrack.DeriveStatus(out) != tooltrack.StatusFailed || !strings.Contains(out, string(ErrTimeout)) {
			t.Errorf("expected timeout failure, got: %s", out)
		}
	})
}

func TestShellTool_OutputTruncation(t *testing.T) {
	tool := NewShellTool(Workspace{Root: t.TempDir()}, OutputLimits{MaxBytes: 20})

	out := run(t, tool, ShellArgs{Command: "echo 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'"})
	if !strings.Contains(out, "[Output truncated due to size limit]") {
		t.Errorf("expected truncation message in output, got: %s", out)
	}
}

func mustMarshalShellArgs(args ShellArgs) json.RawMessage {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return data
}
