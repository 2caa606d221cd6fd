package turn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/session"
	"github.com/stratuscode/stratus/internal/tooltrack"
)

// sink routes engine callbacks for one turn into the flusher, the tool
// tracker and the controller's advisory state.
type sink struct {
	c   *Controller
	run *turnRun
}

var _ agent.Sink = (*sink)(nil)

func (s *sink) OnToken(text string) {
	s.run.flusher.Text(text)
}

func (s *sink) OnReasoning(text string) {
	s.run.flusher.Reasoning(text)
}

func (s *sink) OnToolCall(call agent.ToolCall) {
	// Text streamed so far must land on the timeline before the call.
	s.run.flusher.BeforeToolCall()
	s.run.tracker.OnCall(s.run.persist, trackCall(call))
}

func (s *sink) OnToolResult(call agent.ToolCall, result string) {
	if s.run.tracker.OnResult(s.run.persist, trackCall(call), result) {
		s.c.setPlanExitProposed(s.run)
	}
}

func (s *sink) OnStatusChange(status agent.Status) {
	slog.Debug("agent status", "session", s.run.sessionID, "status", status)
}

func (s *sink) OnContextManaged(info agent.ContextInfo) {
	switch {
	case info.WasSummarized:
		s.c.setContextStatus(s.run, fmt.Sprintf("Summarized (%d msgs compacted)", info.MessagesRemoved))
	case info.WasTruncated:
		s.c.setContextStatus(s.run, fmt.Sprintf("Truncated (%d msgs removed)", info.MessagesRemoved))
	}
}

func (s *sink) OnError(err error) {
	slog.Debug("agent reported error", "session", s.run.sessionID, "error", err)
}

func trackCall(call agent.ToolCall) tooltrack.Call {
	return tooltrack.Call{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
}

// recorder persists tool-call audit rows in the session store.
type recorder struct {
	store session.Store
}

func (r *recorder) RecordToolCall(ctx context.Context, sessionID, messageID string, call tooltrack.Call) error {
	return r.store.AddToolCall(ctx, &session.ToolCall{
		ID:        call.ID,
		SessionID: sessionID,
		MessageID: messageID,
		Name:      call.Name,
		Arguments: string(call.Arguments),
		Status:    string(tooltrack.StatusRunning),
	})
}

func (r *recorder) RecordToolResult(ctx context.Context, callID string, status tooltrack.Status, result string) error {
	return r.store.UpdateToolCallResult(ctx, callID, string(status), result)
}
