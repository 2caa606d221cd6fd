package tooltrack

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stratuscode/stratus/internal/timeline"
)

type fakeRecorder struct {
	calls   []Call
	results map[string]Status
	err     error
}

func (r *fakeRecorder) RecordToolCall(_ context.Context, _, _ string, call Call) error {
	r.calls = append(r.calls, call)
	return r.err
}

func (r *fakeRecorder) RecordToolResult(_ context.Context, id string, status Status, _ string) error {
	if r.results == nil {
		r.results = make(map[string]Status)
	}
	r.results[id] = status
	return r.err
}

func countKind(events []timeline.Event, kind timeline.Kind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestCallResultPairing(t *testing.T) {
	store := timeline.NewStore(nil)
	rec := &fakeRecorder{}
	tr := New(store, rec, nil)
	ctx := context.Background()

	call := Call{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)}
	tr.OnCall(ctx, call)
	tr.OnCall(ctx, call)

	if status, _ := tr.Status("c1"); status != StatusRunning {
		t.Errorf("status = %q, want running", status)
	}

	tr.OnResult(ctx, call, "package main")
	tr.OnResult(ctx, call, "again")

	events := store.Events()
	if n := countKind(events, timeline.KindToolCall); n != 1 {
		t.Errorf("tool_call events = %d, want 1", n)
	}
	if n := countKind(events, timeline.KindToolResult); n != 1 {
		t.Errorf("tool_result events = %d, want 1", n)
	}
	if events[0].Content != `{"path":"a.go"}` {
		t.Errorf("call content = %q", events[0].Content)
	}
	if events[1].ToolCallID != "c1" || events[1].Content != "package main" {
		t.Errorf("result event = %+v", events[1])
	}
	if status, _ := tr.Status("c1"); status != StatusCompleted {
		t.Errorf("status = %q, want completed", status)
	}
	if len(rec.calls) != 1 || rec.results["c1"] != StatusCompleted {
		t.Errorf("recorder calls=%d results=%v", len(rec.calls), rec.results)
	}
}

func TestResultWithoutCallCreatesCall(t *testing.T) {
	store := timeline.NewStore(nil)
	tr := New(store, nil, nil)

	tr.OnResult(context.Background(), Call{ID: "c9", Name: "glob"}, `{"error":true,"message":"bad"}`)

	events := store.Events()
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Kind != timeline.KindToolCall || events[0].Status != string(StatusFailed) {
		t.Errorf("call event = %+v", events[0])
	}
}

func TestRecorderErrorsIgnored(t *testing.T) {
	store := timeline.NewStore(nil)
	rec := &fakeRecorder{err: errors.New("disk full")}
	tr := New(store, rec, nil)

	call := Call{ID: "c1", Name: "write_file"}
	tr.OnCall(context.Background(), call)
	tr.OnResult(context.Background(), call, "ok")

	if store.Len() != 2 {
		t.Errorf("len = %d, want 2", store.Len())
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		result string
		want   Status
	}{
		{`{"error": true}`, StatusFailed},
		{`{"success": false, "output": "x"}`, StatusFailed},
		{`{"error": false}`, StatusCompleted},
		{`{"success": true}`, StatusCompleted},
		{`{"error": "message"}`, StatusCompleted},
		{`[1,2,3]`, StatusCompleted},
		{`command not found`, StatusCompleted},
		{``, StatusCompleted},
	}
	for _, tt := range tests {
		if got := DeriveStatus(tt.result); got != tt.want {
			t.Errorf("DeriveStatus(%q) = %q, want %q", tt.result, got, tt.want)
		}
	}
}

func TestPlanExitProposal(t *testing.T) {
	store := timeline.NewStore(nil)
	tr := New(store, nil, nil)
	ctx := context.Background()

	if tr.OnResult(ctx, Call{ID: "p1", Name: PlanExitTool}, `{"proposingExit": false}`) {
		t.Error("proposingExit false should not propose")
	}
	if !tr.OnResult(ctx, Call{ID: "p2", Name: PlanExitTool}, `{"proposingExit": true}`) {
		t.Error("expected plan exit proposal")
	}
	if tr.OnResult(ctx, Call{ID: "p3", Name: "read_file"}, `{"proposingExit": true}`) {
		t.Error("only plan_exit may propose")
	}
}
