package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stratuscode/stratus/internal/reference"
	"github.com/stratuscode/stratus/internal/tooltrack"
)

func TestTodoWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	store := NewTodoStore(dir)
	write := NewTodoWriteTool(store, "s1")

	out := run(t, write, TodoWriteArgs{Todos: []TodoItem{
		{Content: "read the code", Status: TodoCompleted},
		{Content: "write the fix", Status: TodoInProgress, Priority: "high"},
		{Content: "run tests"},
	}})
	if !strings.Contains(out, "3 todos: 1 pending, 1 in progress, 1 completed") {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(out, "[~] write the fix (high)") {
		t.Fatalf("output = %q", out)
	}

	items, err := store.List("s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 || items[2].Status != TodoPending || items[0].ID == "" {
		t.Fatalf("items = %+v", items)
	}
	if got := CountTodos(items); got != (TodoCounts{Pending: 1, InProgress: 1, Completed: 1, Total: 3}) {
		t.Fatalf("counts = %+v", got)
	}

	// A fresh store reads the list back from disk.
	reloaded, err := NewTodoStore(dir).List("s1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded) != 3 || reloaded[1].Content != "write the fix" {
		t.Fatalf("reloaded = %+v", reloaded)
	}

	read := run(t, NewTodoReadTool(store, "s1"), map[string]any{})
	if !strings.Contains(read, "[x] read the code") {
		t.Fatalf("todo_read = %q", read)
	}

	if err := store.Remove("s1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if items, _ := NewTodoStore(dir).List("s1"); len(items) != 0 {
		t.Fatalf("list after remove = %+v", items)
	}
	if got := run(t, NewTodoReadTool(store, "s1"), map[string]any{}); got != "The todo list is empty." {
		t.Fatalf("empty read = %q", got)
	}
}

func TestTodoWriteRejectsBadItems(t *testing.T) {
	write := NewTodoWriteTool(NewTodoStore(""), "s1")

	tests := []struct {
		name string
		item TodoItem
	}{
		{"empty content", TodoItem{Content: " ", Status: TodoPending}},
		{"bad status", TodoItem{Content: "x", Status: "blocked"}},
		{"bad priority", TodoItem{Content: "x", Status: TodoPending, Priority: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, write, TodoWriteArgs{Todos: []TodoItem{tt.item}})
			if tooltrack.DeriveStatus(out) != tooltrack.StatusFailed {
				t.Fatalf("expected failed result, got %q", out)
			}
		})
	}
}

func waitPending(t *testing.T, b *QuestionBroker, sessionID string) PendingQuestion {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pending := b.Pending(sessionID); len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("question never became pending")
	return PendingQuestion{}
}

func TestQuestionToolAnswerAndSkip(t *testing.T) {
	broker := NewQuestionBroker()
	tool := NewQuestionTool(broker, "s1")
	args := QuestionArgs{
		Question: "Which database?",
		Header:   "Database",
		Options:  []QuestionOption{{Label: "SQLite"}, {Label: "Postgres", Description: "server"}},
	}

	done := make(chan string, 1)
	go func() { done <- run(t, tool, args) }()
	pending := waitPending(t, broker, "s1")
	if len(pending.Questions) != 1 || pending.Questions[0].Header != "Database" {
		t.Fatalf("pending = %+v", pending)
	}
	if got := broker.Pending("other"); len(got) != 0 {
		t.Fatalf("other session sees %+v", got)
	}
	if err := broker.Answer(pending.ID, []string{"SQLite"}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	var res questionResult
	if err := json.Unmarshal([]byte(<-done), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Answers) != 1 || res.Answers[0] != "SQLite" {
		t.Fatalf("answers = %v", res.Answers)
	}
	if err := broker.Answer(pending.ID, nil); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("second answer err = %v", err)
	}

	go func() { done <- run(t, tool, args) }()
	pending = waitPending(t, broker, "s1")
	if err := broker.Skip(pending.ID); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if out := <-done; !strings.Contains(out, `"skipped":true`) {
		t.Fatalf("skip output = %q", out)
	}
}

func TestQuestionWithdrawnOnCancel(t *testing.T) {
	broker := NewQuestionBroker()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := broker.Ask(ctx, "s1", []QuestionInfo{{ID: "q", Question: "?"}})
		errc <- err
	}()
	waitPending(t, broker, "s1")
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Ask err = %v", err)
	}
	if got := broker.Pending("s1"); len(got) != 0 {
		t.Fatalf("pending after cancel = %+v", got)
	}
}

func TestQuestionToolValidatesOptions(t *testing.T) {
	tool := NewQuestionTool(NewQuestionBroker(), "s1")
	out := run(t, tool, QuestionArgs{Question: "?", Options: []QuestionOption{{Label: "only"}}})
	if tooltrack.DeriveStatus(out) != tooltrack.StatusFailed {
		t.Fatalf("expected failed result, got %q", out)
	}
}

func TestRevertRestoresEditedAndRemovesCreated(t *testing.T) {
	dir := t.TempDir()
	ws := Workspace{Root: dir}
	history := NewFileHistory()
	writeFile(t, filepath.Join(dir, "main.go"), "package main\n")

	write := NewWriteFileTool(ws).WithHistory(history, "s1")
	edit := NewEditFileTool(ws).WithHistory(history, "s1")
	run(t, edit, EditFileArgs{FilePath: "main.go", OldText: "package main", NewText: "package app"})
	run(t, write, WriteFileArgs{FilePath: "main.go", Content: "rewritten\n"})
	run(t, write, WriteFileArgs{FilePath: "pkg/new.go", Content: "package pkg\n"})

	revert := NewRevertTool(ws, history, "s1")
	if out := run(t, NewRevertTool(ws, history, "other"), RevertArgs{}); out != "Nothing to revert." {
		t.Fatalf("other session revert = %q", out)
	}

	out := run(t, revert, RevertArgs{})
	if !strings.Contains(out, "Reverted 2 file(s)") || !strings.Contains(out, "pkg/new.go") {
		t.Fatalf("revert output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "package main\n" {
		t.Fatalf("main.go = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg/new.go")); !os.IsNotExist(err) {
		t.Fatalf("created file still present: %v", err)
	}
	if out := run(t, revert, RevertArgs{}); out != "Nothing to revert." {
		t.Fatalf("second revert = %q", out)
	}
}

func TestRevertSinglePath(t *testing.T) {
	dir := t.TempDir()
	ws := Workspace{Root: dir}
	history := NewFileHistory()
	write := NewWriteFileTool(ws).WithHistory(history, "s1")
	run(t, write, WriteFileArgs{FilePath: "a.txt", Content: "a"})
	run(t, write, WriteFileArgs{FilePath: "b.txt", Content: "b"})

	out := run(t, NewRevertTool(ws, history, "s1"), RevertArgs{Path: "a.txt"})
	if out != "Reverted 1 file(s):\na.txt" {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("b.txt should remain: %v", err)
	}
}

func TestCodeSearch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "internal/turn/controller.go"), "package turn\n\nfunc Submit() {}\n")
	writeFile(t, filepath.Join(dir, "README.md"), "Call submit to run a turn.\n")
	index := reference.NewIndex(dir)
	tool := NewCodeSearchTool(Workspace{Root: dir}, index, DefaultOutputLimits())

	out := run(t, tool, CodeSearchArgs{Query: "submit"})
	if !strings.Contains(out, "internal/turn/controller.go:3: func Submit() {}") {
		t.Fatalf("missing content match: %q", out)
	}
	if !strings.Contains(out, "README.md:1:") {
		t.Fatalf("missing case-insensitive match: %q", out)
	}

	out = run(t, tool, CodeSearchArgs{Query: "contrl"})
	if !strings.Contains(out, "Files:\ninternal/turn/controller.go") {
		t.Fatalf("missing fuzzy path match: %q", out)
	}

	// New files show up only after a reindex.
	writeFile(t, filepath.Join(dir, "later.go"), "package later\n")
	if out := run(t, tool, CodeSearchArgs{Query: "later"}); strings.Contains(out, "later.go") {
		t.Fatalf("stale index already has later.go: %q", out)
	}
	if out := run(t, tool, CodeSearchArgs{Query: ReindexQuery, Reindex: true}); !strings.HasPrefix(out, "Reindexed ") {
		t.Fatalf("reindex output = %q", out)
	}
	if out := run(t, tool, CodeSearchArgs{Query: "later"}); !strings.Contains(out, "later.go") {
		t.Fatalf("reindexed search = %q", out)
	}
}
