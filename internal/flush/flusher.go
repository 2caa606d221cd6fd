// Package flush turns incremental text and reasoning fragments from the agent
// engine into a small number of timeline events.
package flush

import (
	"strings"
	"sync"
	"time"

	"github.com/stratuscode/stratus/internal/timeline"
)

// DefaultInterval is the periodic flush interval used when none is configured.
const DefaultInterval = 150 * time.Millisecond

// Writer is the subset of timeline.Store the flusher writes to.
type Writer interface {
	Append(ev timeline.Event) timeline.Event
	Update(id string, fn func(*timeline.Event)) (timeline.Event, bool)
}

// Hook observes every event the flusher writes. created is true for the
// first write of an event.
type Hook func(ev timeline.Event, created bool)

type fragmentType int

const (
	lastNone fragmentType = iota
	lastText
	lastReasoning
)

// Flusher buffers text and reasoning for a single turn. All methods are safe
// for concurrent use; the periodic tick runs on its own goroutine.
type Flusher struct {
	mu   sync.Mutex
	w    Writer
	hook Hook

	sessionID string
	parentID  string

	text        strings.Builder
	reasoning   strings.Builder
	accumulated strings.Builder
	last        fragmentType

	textID      string
	reasoningID string

	stop chan struct{}
	done chan struct{}
}

// New creates a flusher writing to w. hook may be nil.
func New(w Writer, hook Hook) *Flusher {
	return &Flusher{w: w, hook: hook}
}

// Begin starts a turn: buffers are dropped and new events are stamped with
// the session and parent message.
func (f *Flusher) Begin(sessionID, parentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked()
	f.sessionID = sessionID
	f.parentID = parentID
}

// Text buffers an assistant text fragment. A pending reasoning buffer is
// closed first so reasoning always renders before the text that follows it.
func (f *Flusher) Text(frag string) {
	if frag == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last == lastReasoning && f.reasoning.Len() > 0 {
		f.flushReasoningLocked()
	}
	f.text.WriteString(frag)
	f.accumulated.WriteString(frag)
	f.last = lastText
}

// Reasoning buffers a reasoning fragment. Pending text is closed first. The
// open reasoning event is rewritten in place as fragments arrive.
func (f *Flusher) Reasoning(frag string) {
	if frag == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last == lastText && f.text.Len() > 0 {
		f.flushTextLocked(true)
	}
	f.reasoning.WriteString(frag)
	f.last = lastReasoning

	content := f.reasoning.String()
	if f.reasoningID != "" {
		f.update(f.reasoningID, content, true)
		return
	}
	ev := f.create(timeline.KindReasoning, content, true)
	f.reasoningID = ev.ID
}

// Tick publishes buffered text as a non-final update. Reasoning is never
// touched by the tick.
func (f *Flusher) Tick() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last == lastText && f.text.Len() > 0 {
		f.flushTextLocked(false)
	}
}

// FlushText writes the text buffer to the open assistant event, creating it
// if needed. A final flush closes the event and clears the buffer.
func (f *Flusher) FlushText(final bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushTextLocked(final)
}

// FlushReasoning closes the open reasoning event.
func (f *Flusher) FlushReasoning() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushReasoningLocked()
}

// BeforeToolCall closes both buffers so a following tool_call event lands
// after the narration that preceded it.
func (f *Flusher) BeforeToolCall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked()
}

// Finish performs the last ordered flush of the turn: whichever buffer did
// not receive data most recently is closed first.
func (f *Flusher) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked()
}

// Partial returns all text streamed during the turn.
func (f *Flusher) Partial() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accumulated.String()
}

// Start runs Tick every interval until Stop is called.
func (f *Flusher) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	f.mu.Lock()
	if f.stop != nil {
		f.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	f.stop, f.done = stop, done
	f.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.Tick()
			}
		}
	}()
}

// Stop halts the ticker and waits for it to exit. Safe to call repeatedly.
func (f *Flusher) Stop() {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (f *Flusher) resetLocked() {
	f.text.Reset()
	f.reasoning.Reset()
	f.accumulated.Reset()
	f.last = lastNone
	f.textID = ""
	f.reasoningID = ""
}

func (f *Flusher) finishLocked() {
	if f.last == lastReasoning {
		f.flushTextLocked(true)
		f.flushReasoningLocked()
		return
	}
	f.flushReasoningLocked()
	f.flushTextLocked(true)
}

func (f *Flusher) flushTextLocked(final bool) {
	if f.text.Len() == 0 {
		return
	}
	content := f.text.String()
	if f.textID != "" {
		f.update(f.textID, content, !final)
	} else {
		ev := f.create(timeline.KindAssistant, content, !final)
		f.textID = ev.ID
	}
	if final {
		f.text.Reset()
		f.textID = ""
	}
}

func (f *Flusher) flushReasoningLocked() {
	if f.reasoningID == "" && f.reasoning.Len() == 0 {
		return
	}
	content := f.reasoning.String()
	if f.reasoningID != "" {
		f.update(f.reasoningID, content, false)
	} else {
		f.create(timeline.KindReasoning, content, false)
	}
	f.reasoning.Reset()
	f.reasoningID = ""
}

func (f *Flusher) create(kind timeline.Kind, content string, streaming bool) timeline.Event {
	ev := f.w.Append(timeline.Event{
		SessionID:       f.sessionID,
		ParentMessageID: f.parentID,
		Kind:            kind,
		Content:         content,
		Streaming:       streaming,
	})
	if f.hook != nil {
		f.hook(ev, true)
	}
	return ev
}

func (f *Flusher) update(id, content string, streaming bool) {
	ev, ok := f.w.Update(id, func(ev *timeline.Event) {
		ev.Content = content
		ev.Streaming = streaming
	})
	if ok && f.hook != nil {
		f.hook(ev, false)
	}
}
