package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stratuscode/stratus/internal/timeline"
)

// Status represents the outcome of the most recent turn in a session.
type Status string

const (
	StatusActive    Status = "active"    // Session is open, a turn may be running
	StatusCompleted Status = "completed" // Last turn finished normally
	StatusFailed    Status = "failed"    // Last turn ended with an error
)

// Role of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session represents a conversation stored in the database.
type Session struct {
	ID              string    `json:"id"`
	Title           string    `json:"title,omitempty"` // First user message, truncated
	ProjectDir      string    `json:"projectDir,omitempty"`
	Agent           string    `json:"agent,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	Model           string    `json:"model,omitempty"`
	ReasoningEffort string    `json:"reasoningEffort,omitempty"`
	Status          Status    `json:"status,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Part is a typed piece of message content.
type Part struct {
	Type string `json:"type"` // "text" or "image"
	Text string `json:"text,omitempty"`
	Mime string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"` // base64
}

// Message is one user or assistant message. Content is the display text;
// Parts carries images attached to user messages.
type Message struct {
	ID        string               `json:"id"`
	SessionID string               `json:"sessionId"`
	Role      Role                 `json:"role"`
	Content   string               `json:"content"`
	Parts     []Part               `json:"parts,omitempty"`
	Tokens    *timeline.TokenUsage `json:"tokens,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	Sequence  int                  `json:"sequence"`
}

// ToolCall is the audit row for one tool invocation.
type ToolCall struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId,omitempty"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is a lightweight view of a session for listing.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ProjectDir   string    `json:"projectDir,omitempty"`
	Agent        string    `json:"agent,omitempty"`
	Model        string    `json:"model,omitempty"`
	Status       Status    `json:"status,omitempty"`
	MessageCount int       `json:"messageCount"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ListOptions configures session listing.
type ListOptions struct {
	ProjectDir string // Filter by project directory
	Limit      int    // Max results (0 = use default)
	Offset     int    // Pagination offset
}

// SearchResult represents a full-text search match.
type SearchResult struct {
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"` // Matched text snippet
	CreatedAt time.Time `json:"createdAt"`
}

// NewID returns a new random identifier for sessions, messages and tool calls.
func NewID() string {
	return uuid.NewString()
}

// PartsJSON returns the Parts field serialized to JSON for database storage.
func (m *Message) PartsJSON() (string, error) {
	if len(m.Parts) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m.Parts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetPartsFromJSON deserializes JSON into the Parts field.
func (m *Message) SetPartsFromJSON(data string) error {
	if data == "" {
		m.Parts = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.Parts)
}

// TruncateTitle returns the first line of content, truncated to 100 chars.
func TruncateTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
