package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stratuscode/stratus/internal/agent"
)

// Todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// TodoItem is one entry of a session's todo list.
type TodoItem struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
}

// TodoCounts summarizes a todo list by status.
type TodoCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
}

// CountTodos tallies items by status.
func CountTodos(items []TodoItem) TodoCounts {
	var c TodoCounts
	for _, it := range items {
		switch it.Status {
		case TodoPending:
			c.Pending++
		case TodoInProgress:
			c.InProgress++
		case TodoCompleted:
			c.Completed++
		}
	}
	c.Total = len(items)
	return c
}

// TodoStore keeps one todo list per session, written through to
// <dir>/<sessionID>.json. An empty dir keeps lists in memory only.
type TodoStore struct {
	mu    sync.Mutex
	dir   string
	lists map[string][]TodoItem
}

// NewTodoStore creates a store rooted at dir.
func NewTodoStore(dir string) *TodoStore {
	return &TodoStore{dir: dir, lists: make(map[string][]TodoItem)}
}

// List returns the session's todos, loading them from disk on first use.
// A session without a list returns an empty slice.
func (s *TodoStore) List(sessionID string) ([]TodoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]TodoItem{}, items...), nil
}

// Set replaces the session's list.
func (s *TodoStore) Set(sessionID string, items []TodoItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items = append([]TodoItem{}, items...)
	if s.dir != "" {
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return err
		}
		if err := writeAtomic(s.path(sessionID), data, 0, true); err != nil {
			return fmt.Errorf("save todos: %w", err)
		}
	}
	s.lists[sessionID] = items
	return nil
}

// Remove drops the session's list, e.g. when the session is deleted.
func (s *TodoStore) Remove(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, sessionID)
	if s.dir == "" {
		return nil
	}
	if err := os.Remove(s.path(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *TodoStore) loadLocked(sessionID string) ([]TodoItem, error) {
	if items, ok := s.lists[sessionID]; ok {
		return items, nil
	}
	if s.dir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []TodoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse todos of %s: %w", sessionID, err)
	}
	s.lists[sessionID] = items
	return items, nil
}

func (s *TodoStore) path(sessionID string) string {
	return filepath.Join(s.dir, filepath.Base(sessionID)+".json")
}

// TodoWriteTool replaces the session's todo list.
type TodoWriteTool struct {
	store     *TodoStore
	sessionID string
}

// NewTodoWriteTool creates the todo_write tool for a session.
func NewTodoWriteTool(store *TodoStore, sessionID string) *TodoWriteTool {
	return &TodoWriteTool{store: store, sessionID: sessionID}
}

// TodoWriteArgs are the arguments for todo_write.
type TodoWriteArgs struct {
	Todos []TodoItem `json:"todos"`
}

func (t *TodoWriteTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name: TodoWriteToolName,
		Description: `Replace the session todo list. Use it to plan multi-step work and to mark progress.
Send the full list every time; items left out are dropped. Keep at most one item in_progress.`,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"todos": map[string]interface{}{
					"type":        "array",
					"description": "The complete todo list",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"id": map[string]interface{}{
								"type":        "string",
								"description": "Stable id; generated when empty",
							},
							"content": map[string]interface{}{
								"type":        "string",
								"description": "What needs doing",
							},
							"status": map[string]interface{}{
								"type": "string",
								"enum": []string{TodoPending, TodoInProgress, TodoCompleted},
							},
							"priority": map[string]interface{}{
								"type": "string",
								"enum": []string{"high", "medium", "low"},
							},
						},
						"required": []string{"content", "status"},
					},
				},
			},
			"required":             []string{"todos"},
			"additionalProperties": false,
		},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a TodoWriteArgs
	warning, terr := decodeArgs(args, &a, "todos")
	if terr != nil {
		return formatToolError(terr), nil
	}
	for i := range a.Todos {
		item := &a.Todos[i]
		item.Content = strings.TrimSpace(item.Content)
		if item.Content == "" {
			return formatToolErrorf(ErrInvalidParams, "todo %d: content is required", i+1), nil
		}
		switch item.Status {
		case TodoPending, TodoInProgress, TodoCompleted:
		case "":
			item.Status = TodoPending
		default:
			return formatToolErrorf(ErrInvalidParams, "todo %d: invalid status %q", i+1, item.Status), nil
		}
		switch item.Priority {
		case "", "high", "medium", "low":
		default:
			return formatToolErrorf(ErrInvalidParams, "todo %d: invalid priority %q", i+1, item.Priority), nil
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
	}
	if err := t.store.Set(t.sessionID, a.Todos); err != nil {
		return formatToolError(NewToolError(ErrExecutionFailed, err.Error())), nil
	}
	return warning + renderTodos(a.Todos), nil
}

// TodoReadTool returns the session's todo list.
type TodoReadTool struct {
	store     *TodoStore
	sessionID string
}

// NewTodoReadTool creates the todo_read tool for a session.
func NewTodoReadTool(store *TodoStore, sessionID string) *TodoReadTool {
	return &TodoReadTool{store: store, sessionID: sessionID}
}

func (t *TodoReadTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        TodoReadToolName,
		Description: "Read the session todo list.",
		Schema: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": false,
		},
	}
}

func (t *TodoReadTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	items, err := t.store.List(t.sessionID)
	if err != nil {
		return formatToolError(NewToolError(ErrExecutionFailed, err.Error())), nil
	}
	return renderTodos(items), nil
}

func renderTodos(items []TodoItem) string {
	if len(items) == 0 {
		return "The todo list is empty."
	}
	c := CountTodos(items)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d todos: %d pending, %d in progress, %d completed\n", c.Total, c.Pending, c.InProgress, c.Completed)
	for _, it := range items {
		mark := " "
		switch it.Status {
		case TodoInProgress:
			mark = "~"
		case TodoCompleted:
			mark = "x"
		}
		fmt.Fprintf(&sb, "[%s] %s", mark, it.Content)
		if it.Priority != "" {
			fmt.Fprintf(&sb, " (%s)", it.Priority)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
