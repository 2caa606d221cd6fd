package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stratuscode/stratus/internal/timeline"
)

// MemoryStore keeps sessions in process memory. It is used when sessions
// are disabled and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	messages  map[string][]*Message
	events    map[string][]timeline.Event
	toolCalls map[string]*ToolCall
	callOrder []string
	current   string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*Session),
		messages:  make(map[string][]*Message),
		events:    make(map[string][]timeline.Event),
		toolCalls: make(map[string]*ToolCall),
	}
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("insert session: duplicate id %s", sess.ID)
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sess.ID)
	}
	sess.UpdatedAt = time.Now()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Status = status
		sess.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	delete(s.events, id)
	for cid, c := range s.toolCalls {
		if c.SessionID == id {
			delete(s.toolCalls, cid)
		}
	}
	if s.current == id {
		s.current = ""
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Summary
	for _, sess := range s.sessions {
		if opts.ProjectDir != "" && sess.ProjectDir != opts.ProjectDir {
			continue
		}
		sum := Summary{
			ID:           sess.ID,
			Title:        sess.Title,
			ProjectDir:   sess.ProjectDir,
			Agent:        sess.Agent,
			Model:        sess.Model,
			Status:       sess.Status,
			MessageCount: len(s.messages[sess.ID]),
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
		}
		sum.InputTokens, sum.OutputTokens = s.totalsLocked(sess.ID)
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search does a case-insensitive substring match over message content.
func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit == 0 {
		limit = 20
	}
	q := strings.ToLower(query)
	var out []SearchResult
	for sid, msgs := range s.messages {
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), q) {
				out = append(out, SearchResult{
					SessionID: sid,
					MessageID: m.ID,
					Title:     s.sessions[sid].Title,
					Snippet:   TruncateTitle(m.Content),
					CreatedAt: m.CreatedAt,
				})
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("insert message: %w: %s", ErrNotFound, sessionID)
	}
	msg.SessionID = sessionID
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Sequence = len(s.messages[sessionID])
	cp := cloneMessage(*msg)
	s.messages[sessionID] = append(s.messages[sessionID], &cp)
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[msg.SessionID] {
		if m.ID == msg.ID {
			m.Content = msg.Content
			m.Parts = append([]Part(nil), msg.Parts...)
			m.Tokens = cloneTokens(msg.Tokens)
			return nil
		}
	}
	return fmt.Errorf("message not found: %s", msg.ID)
}

func (s *MemoryStore) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(*m)
	}
	return out, nil
}

func (s *MemoryStore) SaveEvent(ctx context.Context, ev timeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[ev.SessionID]; !ok {
		return fmt.Errorf("save timeline event: %w: %s", ErrNotFound, ev.SessionID)
	}
	events := s.events[ev.SessionID]
	for i := range events {
		if events[i].ID == ev.ID {
			events[i].Content = ev.Content
			events[i].Streaming = ev.Streaming
			events[i].Status = ev.Status
			events[i].Tokens = cloneTokens(ev.Tokens)
			events[i].Attachments = ev.Clone().Attachments
			return nil
		}
	}
	s.events[ev.SessionID] = append(events, ev.Clone())
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, sessionID string) ([]timeline.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[sessionID]
	out := make([]timeline.Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out, nil
}

func (s *MemoryStore) AddToolCall(ctx context.Context, call *ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.toolCalls[call.ID]; ok {
		return nil
	}
	now := time.Now()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = now
	if call.Status == "" {
		call.Status = "running"
	}
	cp := *call
	s.toolCalls[call.ID] = &cp
	s.callOrder = append(s.callOrder, call.ID)
	return nil
}

func (s *MemoryStore) UpdateToolCallResult(ctx context.Context, id, status, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.toolCalls[id]
	if !ok {
		return fmt.Errorf("tool call not found: %s", id)
	}
	c.Status = status
	c.Result = result
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetToolCalls(ctx context.Context, sessionID string) ([]ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ToolCall
	for _, id := range s.callOrder {
		if c, ok := s.toolCalls[id]; ok && c.SessionID == sessionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryStore) TokenTotals(ctx context.Context, sessionID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, out := s.totalsLocked(sessionID)
	return in, out, nil
}

func (s *MemoryStore) SetCurrent(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sessionID
	return nil
}

func (s *MemoryStore) GetCurrent(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	if id == "" {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) ClearCurrent(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) totalsLocked(sessionID string) (int, int) {
	var in, out int
	for _, m := range s.messages[sessionID] {
		if m.Tokens != nil {
			in += m.Tokens.Input
			out += m.Tokens.Output
		}
	}
	return in, out
}

func cloneMessage(m Message) Message {
	m.Parts = append([]Part(nil), m.Parts...)
	m.Tokens = cloneTokens(m.Tokens)
	return m
}

func cloneTokens(t *timeline.TokenUsage) *timeline.TokenUsage {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
