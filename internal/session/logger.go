package session

import (
	"context"
	"sync"

	"github.com/stratuscode/stratus/internal/timeline"
)

// WarnFunc is a function that logs warnings.
type WarnFunc func(msg string, args ...any)

// LoggingStore wraps a Store and logs write errors instead of letting them
// go unnoticed. Errors are still returned; callers that treat a write as
// best-effort can ignore them knowing the failure has been reported.
type LoggingStore struct {
	Store
	warnFunc WarnFunc
	mu       sync.Mutex
	warned   map[string]bool // Rate-limit warnings by operation type
}

// NewLoggingStore creates a new LoggingStore wrapper.
// The warnFunc is called when persistence operations fail, e.g. slog.Warn.
func NewLoggingStore(store Store, warnFunc WarnFunc) *LoggingStore {
	return &LoggingStore{
		Store:    store,
		warnFunc: warnFunc,
		warned:   make(map[string]bool),
	}
}

// logOnce logs a warning only once per operation type to avoid spamming.
func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil || s.warnFunc == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.warnFunc("session write failed", "op", op, "error", err)
}

// Create wraps Store.Create with error logging.
func (s *LoggingStore) Create(ctx context.Context, sess *Session) error {
	err := s.Store.Create(ctx, sess)
	s.logOnce("Create", err)
	return err
}

// Update wraps Store.Update with error logging.
func (s *LoggingStore) Update(ctx context.Context, sess *Session) error {
	err := s.Store.Update(ctx, sess)
	s.logOnce("Update", err)
	return err
}

// UpdateStatus wraps Store.UpdateStatus with error logging.
func (s *LoggingStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	err := s.Store.UpdateStatus(ctx, id, status)
	s.logOnce("UpdateStatus", err)
	return err
}

// AddMessage wraps Store.AddMessage with error logging.
func (s *LoggingStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	err := s.Store.AddMessage(ctx, sessionID, msg)
	s.logOnce("AddMessage", err)
	return err
}

// UpdateMessage wraps Store.UpdateMessage with error logging.
func (s *LoggingStore) UpdateMessage(ctx context.Context, msg *Message) error {
	err := s.Store.UpdateMessage(ctx, msg)
	s.logOnce("UpdateMessage", err)
	return err
}

// SaveEvent wraps Store.SaveEvent with error logging.
func (s *LoggingStore) SaveEvent(ctx context.Context, ev timeline.Event) error {
	err := s.Store.SaveEvent(ctx, ev)
	s.logOnce("SaveEvent", err)
	return err
}

// AddToolCall wraps Store.AddToolCall with error logging.
func (s *LoggingStore) AddToolCall(ctx context.Context, call *ToolCall) error {
	err := s.Store.AddToolCall(ctx, call)
	s.logOnce("AddToolCall", err)
	return err
}

// UpdateToolCallResult wraps Store.UpdateToolCallResult with error logging.
func (s *LoggingStore) UpdateToolCallResult(ctx context.Context, id, status, result string) error {
	err := s.Store.UpdateToolCallResult(ctx, id, status, result)
	s.logOnce("UpdateToolCallResult", err)
	return err
}

// SetCurrent wraps Store.SetCurrent with error logging.
func (s *LoggingStore) SetCurrent(ctx context.Context, sessionID string) error {
	err := s.Store.SetCurrent(ctx, sessionID)
	s.logOnce("SetCurrent", err)
	return err
}
