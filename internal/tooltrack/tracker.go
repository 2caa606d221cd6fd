// Package tooltrack pairs tool invocations with their results on the timeline.
package tooltrack

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/stratuscode/stratus/internal/timeline"
)

// PlanExitTool is the tool the agent calls to propose leaving plan mode.
const PlanExitTool = "plan_exit"

// Status of a tool call.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Call is a tool invocation announced by the engine.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Recorder persists tool-call rows. Errors are logged and otherwise ignored:
// the tool already ran, and the visible result matters more than the audit row.
type Recorder interface {
	RecordToolCall(ctx context.Context, sessionID, messageID string, call Call) error
	RecordToolResult(ctx context.Context, callID string, status Status, result string) error
}

// Writer is the subset of timeline.Store the tracker writes to.
type Writer interface {
	Append(ev timeline.Event) timeline.Event
	Update(id string, fn func(*timeline.Event)) (timeline.Event, bool)
	Get(id string) (timeline.Event, bool)
}

// Hook observes every event the tracker writes.
type Hook func(ev timeline.Event, created bool)

type entry struct {
	eventID string
	name    string
	done    bool
}

// Tracker keeps the call id -> timeline event mapping for one turn.
type Tracker struct {
	mu    sync.Mutex
	w     Writer
	rec   Recorder
	hook  Hook
	calls map[string]*entry

	sessionID string
	messageID string
}

// New creates a tracker. rec and hook may be nil.
func New(w Writer, rec Recorder, hook Hook) *Tracker {
	return &Tracker{
		w:     w,
		rec:   rec,
		hook:  hook,
		calls: make(map[string]*entry),
	}
}

// Begin sets the session and assistant message new events belong to.
func (t *Tracker) Begin(sessionID, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = sessionID
	t.messageID = messageID
}

// OnCall appends a running tool_call event. Repeated announcements of the
// same call id are ignored.
func (t *Tracker) OnCall(ctx context.Context, call Call) {
	t.mu.Lock()
	if _, ok := t.calls[call.ID]; ok {
		t.mu.Unlock()
		return
	}
	t.addCallLocked(call)
	sessionID, messageID := t.sessionID, t.messageID
	t.mu.Unlock()

	if t.rec != nil {
		if err := t.rec.RecordToolCall(ctx, sessionID, messageID, call); err != nil {
			slog.Debug("tool call not recorded", "call_id", call.ID, "error", err)
		}
	}
}

// OnResult appends the tool_result event paired with call and updates the
// call's status. It reports whether the result is a plan-exit proposal.
// A result for an unknown call first records the call; a second result for
// the same call is ignored.
func (t *Tracker) OnResult(ctx context.Context, call Call, result string) (proposedExit bool) {
	status := DeriveStatus(result)

	t.mu.Lock()
	e, known := t.calls[call.ID]
	if !known {
		e = t.addCallLocked(call)
	}
	if e.done {
		t.mu.Unlock()
		return false
	}
	e.done = true
	name := call.Name
	if name == "" {
		name = e.name
	}

	if ev, ok := t.w.Update(e.eventID, func(ev *timeline.Event) {
		ev.Status = string(status)
	}); ok {
		t.emit(ev, false)
	}
	res := t.w.Append(timeline.Event{
		SessionID:       t.sessionID,
		ParentMessageID: t.messageID,
		Kind:            timeline.KindToolResult,
		Content:         result,
		ToolCallID:      call.ID,
		ToolName:        name,
		Status:          string(status),
	})
	t.emit(res, true)
	sessionID, messageID := t.sessionID, t.messageID
	t.mu.Unlock()

	if t.rec != nil {
		if !known {
			if err := t.rec.RecordToolCall(ctx, sessionID, messageID, call); err != nil {
				slog.Debug("tool call not recorded", "call_id", call.ID, "error", err)
			}
		}
		if err := t.rec.RecordToolResult(ctx, call.ID, status, result); err != nil {
			slog.Debug("tool result not recorded", "call_id", call.ID, "error", err)
		}
	}

	return name == PlanExitTool && ProposesExit(result)
}

// Status returns the current status of a call.
func (t *Tracker) Status(callID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.calls[callID]
	if !ok {
		return "", false
	}
	ev, ok := t.w.Get(e.eventID)
	if !ok {
		return "", false
	}
	return Status(ev.Status), true
}

// Reset forgets all calls.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = make(map[string]*entry)
}

func (t *Tracker) addCallLocked(call Call) *entry {
	ev := t.w.Append(timeline.Event{
		SessionID:       t.sessionID,
		ParentMessageID: t.messageID,
		Kind:            timeline.KindToolCall,
		Content:         string(call.Arguments),
		ToolCallID:      call.ID,
		ToolName:        call.Name,
		Status:          string(StatusRunning),
	})
	e := &entry{eventID: ev.ID, name: call.Name}
	t.calls[call.ID] = e
	t.emit(ev, true)
	return e
}

func (t *Tracker) emit(ev timeline.Event, created bool) {
	if t.hook != nil {
		t.hook(ev, created)
	}
}

// DeriveStatus maps a tool result to a call status. Only a JSON object with
// "error": true or "success": false counts as a failure; plain text and any
// other JSON is treated as completed.
func DeriveStatus(result string) Status {
	var obj map[string]any
	if err := json.Unmarshal([]byte(result), &obj); err != nil {
		return StatusCompleted
	}
	if v, ok := obj["error"].(bool); ok && v {
		return StatusFailed
	}
	if v, ok := obj["success"].(bool); ok && !v {
		return StatusFailed
	}
	return StatusCompleted
}

// ProposesExit reports whether a plan_exit result carries proposingExit: true.
func ProposesExit(result string) bool {
	var payload struct {
		ProposingExit bool `json:"proposingExit"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		return false
	}
	return payload.ProposingExit
}
