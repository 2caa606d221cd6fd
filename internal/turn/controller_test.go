package turn

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/mode"
	"github.com/stratuscode/stratus/internal/session"
	"github.com/stratuscode/stratus/internal/testutil"
	"github.com/stratuscode/stratus/internal/timeline"
	"github.com/stratuscode/stratus/internal/tools"
)

type recordingListener struct {
	mu             sync.Mutex
	states         int
	events         []timeline.Event
	tokens         []TokensUpdate
	statuses       []string
	planExit       []bool
	sessionChanges []string
	errors         []string
}

func (l *recordingListener) State(State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states++
}

func (l *recordingListener) TimelineEvent(ev timeline.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) TokensUpdate(u TokensUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = append(l.tokens, u)
}

func (l *recordingListener) ContextStatus(status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
}

func (l *recordingListener) PlanExitProposed(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.planExit = append(l.planExit, v)
}

func (l *recordingListener) SessionChanged(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionChanges = append(l.sessionChanges, id)
}

func (l *recordingListener) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingListener) timelineEvents() []timeline.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]timeline.Event(nil), l.events...)
}

func (l *recordingListener) contextStatuses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.statuses...)
}

type harness struct {
	c        *Controller
	store    *session.MemoryStore
	engine   *testutil.MockEngine
	listener *recordingListener
	history  *tools.FileHistory
	dir      string
}

func newHarness(t *testing.T, run testutil.RunFunc) *harness {
	t.Helper()
	h := &harness{
		store:    session.NewMemoryStore(),
		engine:   testutil.NewMockEngine(run),
		listener: &recordingListener{},
		history:  tools.NewFileHistory(),
		dir:      t.TempDir(),
	}
	h.c = New(Options{
		Engine:        h.engine,
		Store:         h.store,
		Listener:      h.listener,
		Modes:         mode.NewManager(t.TempDir()),
		History:       h.history,
		Todos:         tools.NewTodoStore(""),
		ProjectDir:    h.dir,
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-5",
		FlushInterval: time.Hour,
		StatusTTL:     20 * time.Millisecond,
	})
	return h
}

func kinds(events []timeline.Event) []timeline.Kind {
	out := make([]timeline.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestSubmitCompletesTurn(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		sink.OnToken("Hi ")
		sink.OnToken("there")
		return &agent.Result{Content: "Hi there", InputTokens: 200, OutputTokens: 50}, nil
	})
	ctx := context.Background()

	h.c.Submit(ctx, "Hello", SubmitOptions{})

	st := h.c.State()
	require.False(t, st.IsLoading)
	require.Empty(t, st.Error)
	require.Equal(t, []timeline.Kind{timeline.KindUser, timeline.KindAssistant}, kinds(st.TimelineEvents))
	require.Equal(t, "Hello", st.TimelineEvents[0].Content)
	require.Equal(t, "Hi there", st.TimelineEvents[1].Content)
	require.False(t, st.TimelineEvents[1].Streaming)

	require.Len(t, st.Messages, 2)
	require.Equal(t, "Hi there", st.Messages[1].Content)
	require.Equal(t, 200, st.Tokens.Input)
	require.Equal(t, 50, st.Tokens.Output)
	require.Equal(t, 200, st.SessionTokens.Input)
	require.Equal(t, 50, st.SessionTokens.Output)
	require.Equal(t, 200, st.ContextUsage.Used)

	sess, err := h.store.Get(ctx, st.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
	require.Equal(t, "Hello", sess.Title)

	msgs, err := h.store.GetMessages(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "Hi there", msgs[1].Content)
	require.NotNil(t, msgs[1].Tokens)

	stored, err := h.store.GetEvents(ctx, st.SessionID)
	require.NoError(t, err)
	require.Equal(t, kinds(st.TimelineEvents), kinds(stored))
	require.Equal(t, "Hi there", stored[1].Content)

	require.Len(t, h.listener.tokens, 1)
	require.Equal(t, 200, h.listener.tokens[0].SessionTokens.Input)
}

func TestSubmitInterleavesReasoningTextAndTools(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		call := agent.ToolCall{ID: "call-1", Name: "read_file", Arguments: []byte(`{"path":"a.go"}`)}
		sink.OnReasoning("need to look")
		sink.OnToken("Let me check.")
		sink.OnToolCall(call)
		sink.OnToolResult(call, "1\tpackage a")
		sink.OnToken("Done.")
		return &agent.Result{Content: "Done.", InputTokens: 10, OutputTokens: 5}, nil
	})
	ctx := context.Background()

	h.c.Submit(ctx, "look at a.go", SubmitOptions{})

	st := h.c.State()
	require.Equal(t, []timeline.Kind{
		timeline.KindUser,
		timeline.KindReasoning,
		timeline.KindAssistant,
		timeline.KindToolCall,
		timeline.KindToolResult,
		timeline.KindAssistant,
	}, kinds(st.TimelineEvents))
	require.Equal(t, "completed", st.TimelineEvents[3].Status)
	require.Equal(t, "call-1", st.TimelineEvents[4].ToolCallID)
	require.Equal(t, "Let me check.Done.", st.Messages[1].Content)

	calls, err := h.store.GetToolCalls(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, "completed", calls[0].Status)
}

func TestSubmitFailureKeepsPartialText(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		sink.OnToken("partial ")
		return nil, errors.New("boom")
	})
	ctx := context.Background()

	h.c.Submit(ctx, "Hello", SubmitOptions{})

	st := h.c.State()
	require.False(t, st.IsLoading)
	require.Equal(t, "boom", st.Error)
	require.Equal(t, "partial \n\n[Error: boom]", st.Messages[1].Content)

	last := st.TimelineEvents[len(st.TimelineEvents)-1]
	require.Equal(t, timeline.KindStatus, last.Kind)
	require.Contains(t, last.Content, "boom")

	sess, err := h.store.Get(ctx, st.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusFailed, sess.Status)
	require.Equal(t, []string{"boom"}, h.listener.errors)
}

func TestSubmitFailureWithoutOutput(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		return nil, errors.New("boom")
	})

	h.c.Submit(context.Background(), "Hello", SubmitOptions{})

	st := h.c.State()
	require.Equal(t, "Error: boom", st.Messages[1].Content)
}

func TestSubmitRecoversEnginePanic(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		panic("kaboom")
	})

	h.c.Submit(context.Background(), "Hello", SubmitOptions{})

	st := h.c.State()
	require.False(t, st.IsLoading)
	require.Equal(t, "kaboom", st.Error)
}

func TestSubmitPlanExitProposal(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   bool
	}{
		{"proposes", `{"proposingExit":true,"planFile":"p.md"}`, true},
		{"declines", `{"proposingExit":false}`, false},
		{"plain text", "ok", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
				call := agent.ToolCall{ID: "exit-1", Name: "plan_exit", Arguments: []byte(`{}`)}
				sink.OnToolCall(call)
				sink.OnToolResult(call, tt.result)
				return &agent.Result{}, nil
			})

			h.c.Submit(context.Background(), "plan it", SubmitOptions{Mode: "plan"})
			require.Equal(t, tt.want, h.c.State().PlanExitProposed)

			h.c.ResetPlanExit()
			require.False(t, h.c.State().PlanExitProposed)
		})
	}
}

func TestSubmitWhileLoadingIsIgnored(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		close(started)
		<-release
		return &agent.Result{Content: "done"}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.c.Submit(context.Background(), "first", SubmitOptions{})
	}()
	<-started

	h.c.Submit(context.Background(), "second", SubmitOptions{})
	require.True(t, h.c.IsLoading())

	close(release)
	<-done
	require.Len(t, h.engine.Requests(), 1)
	require.Len(t, h.c.State().Messages, 2)
}

func TestAbortClearsLoadingAndFailsTurn(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, testutil.Blocking(started))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.c.Submit(context.Background(), "long task", SubmitOptions{})
	}()
	<-started

	h.c.Abort()
	require.False(t, h.c.IsLoading())
	<-done

	st := h.c.State()
	require.Equal(t, "aborted", st.Error)
	require.Equal(t, "Error: aborted", st.Messages[1].Content)
}

func TestContextStatusClearsAfterTTL(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		sink.OnContextManaged(agent.ContextInfo{WasTruncated: true, MessagesRemoved: 4})
		return &agent.Result{}, nil
	})

	h.c.Submit(context.Background(), "Hello", SubmitOptions{})

	require.Eventually(t, func() bool {
		statuses := h.listener.contextStatuses()
		return len(statuses) == 2 && statuses[1] == ""
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "Truncated (4 msgs removed)", h.listener.contextStatuses()[0])
	require.Empty(t, h.c.State().ContextStatus)
}

func TestSubmitComposesOutgoingTextOnly(t *testing.T) {
	h := newHarness(t, testutil.Reply("ok", 1, 1))

	h.c.Submit(context.Background(), "draft a plan", SubmitOptions{Mode: "plan"})

	req := h.engine.Requests()[0]
	outgoing := req.Messages[len(req.Messages)-1].Text()
	require.True(t, strings.HasPrefix(outgoing, "draft a plan"))
	require.Contains(t, outgoing, "<system-reminder>")
	require.Contains(t, req.System, "plan mode")
	require.Equal(t, "draft a plan", h.c.State().TimelineEvents[0].Content)
	require.Equal(t, "draft a plan", h.c.State().Messages[0].Content)
}

func TestSubmitCarriesHistory(t *testing.T) {
	h := newHarness(t, testutil.Reply("ok", 1, 1))
	ctx := context.Background()

	h.c.Submit(ctx, "one", SubmitOptions{})
	h.c.Submit(ctx, "two", SubmitOptions{})

	calls := h.engine.Requests()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].Messages, 3)
	require.Equal(t, "one", calls[1].Messages[0].Text())
	require.Equal(t, "ok", calls[1].Messages[1].Text())
}

func TestReasoningEffortOffDisablesReasoning(t *testing.T) {
	h := newHarness(t, testutil.Reply("ok", 1, 1))

	h.c.SetReasoningEffort("off")
	h.c.Submit(context.Background(), "hi", SubmitOptions{})
	h.c.Submit(context.Background(), "again", SubmitOptions{ReasoningEffort: "high"})

	calls := h.engine.Requests()
	require.Empty(t, calls[0].ReasoningEffort)
	require.Equal(t, "high", calls[1].ReasoningEffort)
}

func TestClearAndLoadSession(t *testing.T) {
	h := newHarness(t, testutil.Reply("Hi there", 200, 50))
	ctx := context.Background()

	h.c.Submit(ctx, "Hello", SubmitOptions{})
	first := h.c.SessionID()

	h.c.Clear()
	st := h.c.State()
	require.NotEqual(t, first, st.SessionID)
	require.Empty(t, st.Messages)
	require.Empty(t, st.TimelineEvents)
	require.Zero(t, st.SessionTokens.Input)
	require.Equal(t, []string{st.SessionID}, h.listener.sessionChanges)

	_, err := h.store.Get(ctx, st.SessionID)
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, h.c.LoadSession(ctx, first))
	st = h.c.State()
	require.Equal(t, first, st.SessionID)
	require.Len(t, st.Messages, 2)
	require.Equal(t, []timeline.Kind{timeline.KindUser, timeline.KindAssistant}, kinds(st.TimelineEvents))
	require.Equal(t, 200, st.SessionTokens.Input)
	require.Equal(t, 50, st.SessionTokens.Output)
	require.Equal(t, 200, st.ContextUsage.Used)

	h.c.Submit(ctx, "Again", SubmitOptions{})
	calls := h.engine.Requests()
	require.Len(t, calls[1].Messages, 3)
}

func TestSetModelAndProvider(t *testing.T) {
	h := newHarness(t, testutil.Reply("ok", 1, 1))
	h.c.opts.ResolveModel = func(provider string) string {
		if provider == "openai" {
			return "gpt-5"
		}
		return ""
	}

	h.c.SetProvider("openai")
	h.c.Submit(context.Background(), "hi", SubmitOptions{})
	h.c.SetModel("gpt-5-mini")
	h.c.Submit(context.Background(), "hi", SubmitOptions{})

	calls := h.engine.Requests()
	require.Equal(t, "openai", calls[0].Provider)
	require.Equal(t, "gpt-5", calls[0].Model)
	require.Equal(t, "gpt-5-mini", calls[1].Model)

	sess, err := h.store.Get(context.Background(), h.c.SessionID())
	require.NoError(t, err)
	require.Equal(t, "gpt-5-mini", sess.Model)
}

func TestSubmitWithoutStreamingRecordsReply(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		return &agent.Result{Content: "Hi there", InputTokens: 200, OutputTokens: 50}, nil
	})
	ctx := context.Background()

	h.c.Submit(ctx, "Hello", SubmitOptions{})

	st := h.c.State()
	require.False(t, st.IsLoading)
	require.Empty(t, st.Error)
	require.Equal(t, []timeline.Kind{timeline.KindUser, timeline.KindAssistant}, kinds(st.TimelineEvents))
	require.Equal(t, "Hi there", st.TimelineEvents[1].Content)
	require.False(t, st.TimelineEvents[1].Streaming)
	require.Equal(t, "Hi there", st.Messages[1].Content)
	require.Equal(t, 200, st.SessionTokens.Input)
	require.Equal(t, 50, st.SessionTokens.Output)

	stored, err := h.store.GetEvents(ctx, st.SessionID)
	require.NoError(t, err)
	require.Equal(t, kinds(st.TimelineEvents), kinds(stored))
}

// lateFinish blocks until the turn is cancelled, then holds the engine until
// release is closed so the caller controls when the finalizer runs.
func lateFinish(started, release chan struct{}) testutil.RunFunc {
	return func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		sink.OnToken("working on it")
		close(started)
		<-ctx.Done()
		<-release
		sink.OnContextManaged(agent.ContextInfo{WasTruncated: true, MessagesRemoved: 2})
		return nil, ctx.Err()
	}
}

func TestStaleTurnStaysOutOfNewSession(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, h *harness, previous string)
	}{
		{"clear", func(t *testing.T, h *harness, previous string) {
			h.c.Clear()
		}},
		{"load", func(t *testing.T, h *harness, previous string) {
			h.c.Abort()
			require.NoError(t, h.c.LoadSession(context.Background(), previous))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testutil.Reply("earlier", 10, 5))
			ctx := context.Background()

			h.c.Submit(ctx, "earlier question", SubmitOptions{})
			previous := h.c.SessionID()
			h.c.Clear()
			stale := h.c.SessionID()

			started := make(chan struct{})
			release := make(chan struct{})
			h.engine.SetRun(lateFinish(started, release))
			done := make(chan struct{})
			go func() {
				defer close(done)
				h.c.Submit(ctx, "old task", SubmitOptions{})
			}()
			<-started

			tt.change(t, h, previous)
			current := h.c.SessionID()
			require.NotEqual(t, stale, current)
			before := h.c.State()

			close(release)
			<-done

			st := h.c.State()
			require.Equal(t, current, st.SessionID)
			require.Equal(t, kinds(before.TimelineEvents), kinds(st.TimelineEvents))
			for _, ev := range st.TimelineEvents {
				require.NotEqual(t, stale, ev.SessionID)
			}
			require.Equal(t, before.SessionTokens, st.SessionTokens)
			require.Len(t, st.Messages, len(before.Messages))
			require.Empty(t, st.ContextStatus)

			h.engine.SetRun(testutil.Reply("fresh", 1, 1))
			h.c.Submit(ctx, "next", SubmitOptions{})
			req, ok := h.engine.LastRequest()
			require.True(t, ok)
			for _, m := range req.Messages {
				require.NotContains(t, m.Text(), "old task")
				require.NotContains(t, m.Text(), "working on it")
			}

			// The stale turn still finalized its own session.
			sess, err := h.store.Get(ctx, stale)
			require.NoError(t, err)
			require.Equal(t, session.StatusFailed, sess.Status)
			events, err := h.store.GetEvents(ctx, stale)
			require.NoError(t, err)
			require.Equal(t, timeline.KindStatus, events[len(events)-1].Kind)
		})
	}
}

func TestExecuteToolRevertsSessionChanges(t *testing.T) {
	h := newHarness(t, testutil.Reply("ok", 1, 1))
	ctx := context.Background()
	h.c.Submit(ctx, "edit main.go", SubmitOptions{})
	id := h.c.SessionID()

	path := filepath.Join(h.dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0644))
	h.history.Record(id, path)
	require.NoError(t, os.WriteFile(path, []byte("package broken\n"), 0644))

	out, err := h.c.ExecuteTool(ctx, "revert", nil)
	require.NoError(t, err)
	require.Equal(t, "completed", out.Status)
	require.Contains(t, out.Result, "main.go")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "package main\n", string(data))

	st := h.c.State()
	n := len(st.TimelineEvents)
	require.Equal(t, timeline.KindToolCall, st.TimelineEvents[n-2].Kind)
	require.Equal(t, timeline.KindToolResult, st.TimelineEvents[n-1].Kind)
	require.Equal(t, "revert", st.TimelineEvents[n-1].ToolName)
	require.Equal(t, "completed", st.TimelineEvents[n-2].Status)

	stored, err := h.store.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Equal(t, kinds(st.TimelineEvents), kinds(stored))
	calls, err := h.store.GetToolCalls(ctx, id)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, "revert", calls[0].Name)
}

func TestExecuteToolReindexNotifiesListener(t *testing.T) {
	h := newHarness(t, testutil.Reply("ok", 1, 1))

	out, err := h.c.ExecuteTool(context.Background(), "codesearch", json.RawMessage(`{"query":"__reindex__","reindex":true}`))
	require.NoError(t, err)
	require.Equal(t, "completed", out.Status)
	require.True(t, strings.HasPrefix(out.Result, "Reindexed "))

	events := h.listener.timelineEvents()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, timeline.KindToolResult, last.Kind)
	require.Equal(t, "codesearch", last.ToolName)
}

func TestExecuteToolRejectsUnknownAndBusy(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, testutil.Blocking(started))

	_, err := h.c.ExecuteTool(context.Background(), "shell", json.RawMessage(`{"command":"ls"}`))
	require.ErrorIs(t, err, ErrUnknownTool)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.c.Submit(context.Background(), "long task", SubmitOptions{})
	}()
	<-started
	_, err = h.c.ExecuteTool(context.Background(), "revert", nil)
	require.ErrorIs(t, err, ErrBusy)

	h.c.Abort()
	<-done
}
