package agent

import (
	"context"
	"io"
	"sync"
)

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCall       EventType = "tool_call"
	EventUsage          EventType = "usage"
	EventRetry          EventType = "retry"
	EventDone           EventType = "done"
)

// Event represents a streamed output update from a single model call.
type Event struct {
	Type EventType
	Text string
	Tool *ToolCall
	Use  *Usage
	// Retry fields (for EventRetry)
	RetryAttempt  int
	RetryWaitSecs float64
}

// Usage captures token usage of one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CallRequest is a single model call inside a turn.
type CallRequest struct {
	Model           string
	ReasoningEffort string
	System          string
	Messages        []Message
	Tools           []ToolSpec
}

// Provider streams model output events for one call.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req CallRequest) (Stream, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

type eventStream struct {
	events <-chan Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// newEventStream runs produce on its own goroutine and exposes what it sends
// as a Stream. The error returned by produce is reported after the last event.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, 16)
	s := &eventStream{events: ch, cancel: cancel}
	go func() {
		defer close(ch)
		if err := produce(ctx, ch); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

// Close cancels the producer and drains anything it still sends.
func (s *eventStream) Close() error {
	s.cancel()
	go func() {
		for range s.events {
		}
	}()
	return nil
}

// send delivers ev unless ctx is done.
func send(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
