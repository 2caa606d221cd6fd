package tools

import (
	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/mode"
	"github.com/stratuscode/stratus/internal/reference"
)

// Env is what a session's tools share with the rest of the backend. Only
// Root is required; tools whose service is nil are left out.
type Env struct {
	Root      string
	PlanFile  string
	SessionID string
	Limits    OutputLimits

	Todos     *TodoStore
	Questions *QuestionBroker
	History   *FileHistory
	Index     *reference.Index
}

func (e Env) workspace() Workspace {
	return Workspace{Root: e.Root}
}

func (e Env) index() *reference.Index {
	if e.Index != nil {
		return e.Index
	}
	return reference.NewIndex(e.Root)
}

// ForMode returns the tools available to the model in a mode. Build mode
// gets the full workspace set. Plan mode is read-only except for the plan
// file, and adds plan_exit.
func ForMode(m mode.Mode, env Env) *agent.Registry {
	ws := env.workspace()
	reg := agent.NewRegistry(
		NewReadFileTool(ws, env.Limits),
		NewGlobTool(ws, env.Limits),
		NewGrepTool(ws, env.Limits),
		NewCodeSearchTool(ws, env.index(), env.Limits),
	)
	if env.Todos != nil {
		reg.Register(NewTodoWriteTool(env.Todos, env.SessionID))
		reg.Register(NewTodoReadTool(env.Todos, env.SessionID))
	}
	if env.Questions != nil {
		reg.Register(NewQuestionTool(env.Questions, env.SessionID))
	}
	if m == mode.Plan {
		reg.Register(NewPlanWriteTool(env.PlanFile))
		reg.Register(NewPlanExitTool(env.PlanFile))
		return reg
	}
	write := NewWriteFileTool(ws)
	edit := NewEditFileTool(ws)
	if env.History != nil {
		write.WithHistory(env.History, env.SessionID)
		edit.WithHistory(env.History, env.SessionID)
	}
	reg.Register(write)
	reg.Register(edit)
	reg.Register(NewShellTool(ws, env.Limits))
	return reg
}

// ForUser returns the tools a client may run directly, outside a turn.
func ForUser(env Env) *agent.Registry {
	ws := env.workspace()
	reg := agent.NewRegistry(NewCodeSearchTool(ws, env.index(), env.Limits))
	if env.History != nil {
		reg.Register(NewRevertTool(ws, env.History, env.SessionID))
	}
	if env.Todos != nil {
		reg.Register(NewTodoReadTool(env.Todos, env.SessionID))
	}
	return reg
}
