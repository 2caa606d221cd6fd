package timeline

import "testing"

func TestStoreAppendAssignsIDAndOrder(t *testing.T) {
	var seen []Event
	s := NewStore(func(ev Event) { seen = append(seen, ev) })

	a := s.Append(Event{Kind: KindUser, Content: "hi"})
	b := s.Append(Event{Kind: KindAssistant, Content: "hello"})

	if a.ID == "" || b.ID == "" {
		t.Fatal("expected ids to be assigned")
	}
	if a.CreatedAt == 0 {
		t.Error("expected CreatedAt to be assigned")
	}

	events := s.Events()
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].ID != a.ID || events[1].ID != b.ID {
		t.Errorf("order = [%s %s], want [%s %s]", events[0].ID, events[1].ID, a.ID, b.ID)
	}
	if len(seen) != 2 {
		t.Errorf("listener calls = %d, want 2", len(seen))
	}
}

func TestStoreUpdateInPlace(t *testing.T) {
	s := NewStore(nil)
	first := s.Append(Event{Kind: KindAssistant, Content: "par", Streaming: true})
	s.Append(Event{Kind: KindToolCall, Content: "{}"})

	updated, ok := s.Update(first.ID, func(ev *Event) {
		ev.Content = "partial"
		ev.Streaming = false
	})
	if !ok {
		t.Fatal("update reported missing event")
	}
	if updated.Content != "partial" || updated.Streaming {
		t.Errorf("updated = %+v", updated)
	}

	events := s.Events()
	if events[0].ID != first.ID {
		t.Errorf("updated event moved: first id %s", events[0].ID)
	}
	if events[0].Content != "partial" {
		t.Errorf("content = %q, want %q", events[0].Content, "partial")
	}

	if _, ok := s.Update("missing", func(*Event) {}); ok {
		t.Error("expected update of missing id to fail")
	}
}

func TestStoreAppendExistingIDReplaces(t *testing.T) {
	s := NewStore(nil)
	ev := s.Append(Event{ID: "x", Kind: KindReasoning, Content: "a"})
	s.Append(Event{ID: "x", Kind: KindReasoning, Content: "ab"})

	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	got, _ := s.Get(ev.ID)
	if got.Content != "ab" {
		t.Errorf("content = %q, want %q", got.Content, "ab")
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore(nil)
	ev := s.Append(Event{Kind: KindUser, Attachments: []Attachment{{Type: "image", Mime: "image/png"}}})

	events := s.Events()
	events[0].Content = "mutated"
	events[0].Attachments[0].Mime = "mutated"

	got, _ := s.Get(ev.ID)
	if got.Content == "mutated" || got.Attachments[0].Mime == "mutated" {
		t.Error("caller mutation leaked into store")
	}
}

func TestStoreResetSkipsDuplicates(t *testing.T) {
	s := NewStore(nil)
	s.Reset([]Event{{ID: "a"}, {ID: "b"}, {ID: "a"}})
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2", s.Len())
	}
	s.Reset(nil)
	if s.Len() != 0 {
		t.Errorf("len after reset = %d", s.Len())
	}
}
