// Package testutil holds fakes shared by controller and server tests.
package testutil

import (
	"context"
	"sync"

	"github.com/stratuscode/stratus/internal/agent"
)

// RunFunc scripts one engine turn.
type RunFunc func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error)

// MockEngine is an agent.Engine that records requests and delegates each
// turn to a script.
type MockEngine struct {
	mu       sync.Mutex
	run      RunFunc
	requests []agent.Request
}

// NewMockEngine creates an engine running fn for every turn.
func NewMockEngine(fn RunFunc) *MockEngine {
	return &MockEngine{run: fn}
}

// Run implements agent.Engine.
func (e *MockEngine) Run(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	fn := e.run
	e.mu.Unlock()
	if fn == nil {
		return &agent.Result{}, nil
	}
	return fn(ctx, req, sink)
}

// SetRun replaces the script for later turns.
func (e *MockEngine) SetRun(fn RunFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = fn
}

// Requests returns a copy of every request seen so far.
func (e *MockEngine) Requests() []agent.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]agent.Request(nil), e.requests...)
}

// RequestCount returns the number of turns run.
func (e *MockEngine) RequestCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// LastRequest returns the most recent request, or false if none.
func (e *MockEngine) LastRequest() (agent.Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return agent.Request{}, false
	}
	return e.requests[len(e.requests)-1], true
}

// Reply returns a script that streams text as one token and completes with
// the given usage.
func Reply(text string, input, output int) RunFunc {
	return func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		sink.OnToken(text)
		return &agent.Result{
			Content:         text,
			InputTokens:     input,
			OutputTokens:    output,
			LastInputTokens: input,
			ResponseMessages: []agent.Message{
				agent.AssistantText(text),
			},
		}, nil
	}
}

// Blocking returns a script that waits for ctx cancellation after signalling
// started, so tests can act while a turn is in flight.
func Blocking(started chan<- struct{}) RunFunc {
	return func(ctx context.Context, req agent.Request, sink agent.Sink) (*agent.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
