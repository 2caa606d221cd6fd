package timeline

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of a timeline event.
type Kind string

const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindReasoning  Kind = "reasoning"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindStatus     Kind = "status"
)

// TokenUsage is the token accounting attached to an event or message.
type TokenUsage struct {
	Input   int    `json:"input"`
	Output  int    `json:"output"`
	Context int    `json:"context,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Attachment is a non-text payload shown alongside a user event.
type Attachment struct {
	Type      string `json:"type"` // "image" or "text"
	Mime      string `json:"mime,omitempty"`
	LineCount int    `json:"lineCount,omitempty"`
	Text      string `json:"text,omitempty"`
	Data      string `json:"data,omitempty"` // base64 for images
}

// Event is one ordered unit of visible session history.
// An event with Streaming=true is still open and may be rewritten in place;
// once Streaming is false the event is final.
type Event struct {
	ID              string       `json:"id"`
	SessionID       string       `json:"sessionId"`
	CreatedAt       int64        `json:"createdAt"` // unix millis
	Kind            Kind         `json:"kind"`
	Content         string       `json:"content"`
	Tokens          *TokenUsage  `json:"tokens,omitempty"`
	Streaming       bool         `json:"streaming"`
	ToolCallID      string       `json:"toolCallId,omitempty"`
	ToolName        string       `json:"toolName,omitempty"`
	Status          string       `json:"status,omitempty"`
	ParentMessageID string       `json:"parentMessageId,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e Event) Clone() Event {
	out := e
	if e.Tokens != nil {
		t := *e.Tokens
		out.Tokens = &t
	}
	if e.Attachments != nil {
		out.Attachments = append([]Attachment(nil), e.Attachments...)
	}
	return out
}

// NewID returns a fresh event identifier.
func NewID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
