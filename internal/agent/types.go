// Package agent defines the contract between the turn controller and the
// engine that calls the model and runs tools, plus a reference engine built
// on the Anthropic and OpenAI SDKs.
package agent

import (
	"context"
	"encoding/json"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	Mime       string // PartImage
	Data       string // PartImage, base64
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// UserText builds a plain user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: text}}}
}

// AssistantText builds a plain assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{{Type: PartText, Text: text}}}
}

// Text concatenates the text parts of a message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Status values reported through Sink.OnStatusChange.
type Status string

const (
	StatusThinking          Status = "thinking"
	StatusToolRunning       Status = "tool_running"
	StatusContextCompacting Status = "context_compacting"
	StatusContextSummarized Status = "context_summarized"
	StatusContextTruncated  Status = "context_truncated"
	StatusRetrying          Status = "retrying"
)

// ContextInfo describes how the engine reduced the history to fit the
// context window.
type ContextInfo struct {
	WasTruncated    bool
	WasSummarized   bool
	MessagesRemoved int
	TokensBefore    int
	TokensAfter     int
}

// Sink receives engine callbacks in emission order. Implementations must be
// safe for use from the goroutine that calls Engine.Run.
type Sink interface {
	OnToken(text string)
	OnReasoning(text string)
	OnToolCall(call ToolCall)
	OnToolResult(call ToolCall, result string)
	OnStatusChange(status Status)
	OnContextManaged(info ContextInfo)
	OnError(err error)
}

// Request is everything the engine needs for one turn.
type Request struct {
	SessionID       string
	Provider        string
	Model           string
	ReasoningEffort string
	System          string
	Messages        []Message
	Tools           *Registry
	MaxTurns        int
	// Summary is the running summary of compacted history, if any.
	Summary string
}

// Result is what the engine returns after a successful turn.
type Result struct {
	Content         string
	Reasoning       string
	ToolCalls       []ToolCall
	InputTokens     int
	OutputTokens    int
	LastInputTokens int
	// ResponseMessages are the assistant and tool messages produced this turn.
	ResponseMessages []Message
	NewSummary       string
}

// Engine runs one turn. Run blocks until the turn ends, ctx is cancelled or
// an error occurs; callbacks are delivered on the calling goroutine.
type Engine interface {
	Run(ctx context.Context, req Request, sink Sink) (*Result, error)
}
