package tools

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/stratuscode/stratus/internal/agent"
)

// PlanExitTool lets the agent ask the user to leave plan mode. The result
// carries proposingExit: true once the plan file has content.
type PlanExitTool struct {
	planFile string
}

// NewPlanExitTool creates the plan_exit tool for a session's plan file.
func NewPlanExitTool(planFile string) *PlanExitTool {
	return &PlanExitTool{planFile: planFile}
}

// PlanExitArgs are the arguments for plan_exit.
type PlanExitArgs struct {
	Summary string `json:"summary,omitempty"`
}

type planExitResult struct {
	ProposingExit bool   `json:"proposingExit"`
	PlanFile      string `json:"planFile"`
	Summary       string `json:"summary,omitempty"`
	Message       string `json:"message"`
}

func (t *PlanExitTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        PlanExitToolName,
		Description: "Call when the plan is written to the plan file and ready for the user to review. The user decides whether to switch to build mode.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary": map[string]interface{}{
					"type":        "string",
					"description": "One or two sentences describing the plan",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *PlanExitTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a PlanExitArgs
	if _, terr := decodeArgs(args, &a, "summary"); terr != nil {
		return formatToolError(terr), nil
	}

	data, err := os.ReadFile(t.planFile)
	if err != nil {
		return formatToolErrorf(ErrFileNotFound, "plan file %s does not exist; write the plan first", t.planFile), nil
	}
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "# Plan"))
	if body == "" {
		return formatToolErrorf(ErrInvalidParams, "plan file %s is empty; write the plan first", t.planFile), nil
	}

	out, err := json.Marshal(planExitResult{
		ProposingExit: true,
		PlanFile:      t.planFile,
		Summary:       a.Summary,
		Message:       "Plan submitted. Wait for the user to approve switching to build mode.",
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func formatToolErrorf(errType ToolErrorType, format string, args ...interface{}) string {
	return formatToolError(NewToolErrorf(errType, format, args...))
}
