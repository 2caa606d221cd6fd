package flush

import (
	"strings"
	"testing"
	"time"

	"github.com/stratuscode/stratus/internal/timeline"
)

func kinds(events []timeline.Event) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = string(ev.Kind)
	}
	return strings.Join(parts, ",")
}

func TestReasoningThenTextOrder(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Reasoning("think")
	f.Text("answer")
	f.Finish()

	events := store.Events()
	if got := kinds(events); got != "reasoning,assistant" {
		t.Fatalf("kinds = %s, want reasoning,assistant", got)
	}
	for _, ev := range events {
		if ev.Streaming {
			t.Errorf("%s event still streaming after Finish", ev.Kind)
		}
	}
	if events[0].Content != "think" || events[1].Content != "answer" {
		t.Errorf("contents = %q, %q", events[0].Content, events[1].Content)
	}
}

func TestTextThenReasoningFlushesTextFirst(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Text("before ")
	f.Reasoning("hmm")
	f.Text("after")
	f.Finish()

	if got := kinds(store.Events()); got != "assistant,reasoning,assistant" {
		t.Fatalf("kinds = %s", got)
	}
}

func TestReasoningUpdatesOpenEventInPlace(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Reasoning("a")
	f.Reasoning("b")
	f.Reasoning("c")

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}
	if events[0].Content != "abc" || !events[0].Streaming {
		t.Errorf("event = %+v", events[0])
	}

	f.FlushReasoning()
	got, _ := store.Get(events[0].ID)
	if got.Streaming {
		t.Error("reasoning still streaming after flush")
	}
}

func TestTickPublishesNonFinalText(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Text("Hel")
	f.Tick()
	f.Text("lo")
	f.Tick()

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}
	if events[0].Content != "Hello" || !events[0].Streaming {
		t.Errorf("event = %+v", events[0])
	}

	f.FlushText(true)
	got, _ := store.Get(events[0].ID)
	if got.Streaming || got.Content != "Hello" {
		t.Errorf("final event = %+v", got)
	}
	if store.Len() != 1 {
		t.Errorf("final flush created a new event")
	}
}

func TestTickIgnoresReasoning(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Reasoning("x")
	f.Tick()

	ev := store.Events()[0]
	if !ev.Streaming {
		t.Error("tick closed the reasoning event")
	}
}

func TestBeforeToolCallClosesBuffers(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Reasoning("plan")
	f.Text("Let me look.")
	f.BeforeToolCall()
	store.Append(timeline.Event{Kind: timeline.KindToolCall})

	if got := kinds(store.Events()); got != "reasoning,assistant,tool_call" {
		t.Fatalf("kinds = %s", got)
	}
	for _, ev := range store.Events() {
		if ev.Streaming {
			t.Errorf("%s still streaming", ev.Kind)
		}
	}
}

func TestPartialAccumulatesAcrossFlushes(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Text("one ")
	f.BeforeToolCall()
	f.Text("two")

	if got := f.Partial(); got != "one two" {
		t.Errorf("Partial() = %q, want %q", got, "one two")
	}
	if n := store.Len(); n != 1 {
		t.Errorf("store has %d events, want 1", n)
	}

	f.Begin("s2", "m2")
	if f.Partial() != "" {
		t.Error("Begin did not clear the previous turn")
	}
}

func TestHookSeesCreateAndUpdate(t *testing.T) {
	store := timeline.NewStore(nil)
	var created, updated int
	f := New(store, func(ev timeline.Event, isNew bool) {
		if isNew {
			created++
		} else {
			updated++
		}
	})
	f.Begin("s1", "m1")

	f.Text("a")
	f.Tick()
	f.FlushText(true)

	if created != 1 || updated != 1 {
		t.Errorf("created=%d updated=%d, want 1/1", created, updated)
	}
	ev := store.Events()[0]
	if ev.SessionID != "s1" || ev.ParentMessageID != "m1" {
		t.Errorf("event ids = %q/%q", ev.SessionID, ev.ParentMessageID)
	}
}

func TestStartStop(t *testing.T) {
	store := timeline.NewStore(nil)
	f := New(store, nil)

	f.Start(5 * time.Millisecond)
	f.Text("streamed")

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.Stop()
	f.Stop()

	if store.Len() != 1 {
		t.Fatalf("expected ticker to publish text, len = %d", store.Len())
	}
	if !store.Events()[0].Streaming {
		t.Error("ticker flush should be non-final")
	}
}
