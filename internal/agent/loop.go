package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	defaultMaxTurns = 20
	// truncateRatio is the share of the context window above which the oldest
	// history is dropped before the next call.
	truncateRatio = 0.8
	summaryLimit  = 200
)

// Loop is the reference Engine: it streams a call, runs the requested tools,
// feeds their results back and repeats until the model answers without tools.
type Loop struct {
	provider     Provider
	contextLimit func(model string) int
}

// NewLoop creates a loop engine. contextLimit may be nil, which disables
// history truncation.
func NewLoop(provider Provider, contextLimit func(model string) int) *Loop {
	return &Loop{provider: provider, contextLimit: contextLimit}
}

func (l *Loop) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	history := append([]Message(nil), req.Messages...)
	summary := req.Summary
	result := &Result{}
	var reasoning strings.Builder

	for attempt := 0; attempt < maxTurns; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		history, summary = l.fitContext(req.Model, history, summary, result.LastInputTokens, sink)

		call := CallRequest{
			Model:           req.Model,
			ReasoningEffort: req.ReasoningEffort,
			System:          systemPrompt(req.System, summary),
			Messages:        history,
		}
		// The last call gets no tools so the model has to answer.
		if attempt < maxTurns-1 {
			call.Tools = req.Tools.AllSpecs()
		}

		sink.OnStatusChange(StatusThinking)
		text, calls, use, err := l.stream(ctx, call, sink, &reasoning)
		if err != nil {
			sink.OnError(err)
			return nil, err
		}
		result.InputTokens += use.InputTokens
		result.OutputTokens += use.OutputTokens
		if use.InputTokens > 0 {
			result.LastInputTokens = use.InputTokens
		}

		calls = dedupeToolCalls(ensureToolCallIDs(calls))
		assistant := buildAssistantMessage(text, calls)
		history = append(history, assistant)
		result.ResponseMessages = append(result.ResponseMessages, assistant)
		result.Content = text

		if len(calls) == 0 {
			break
		}
		result.ToolCalls = append(result.ToolCalls, calls...)

		results := l.executeToolCalls(ctx, req.Tools, calls, sink)
		history = append(history, results)
		result.ResponseMessages = append(result.ResponseMessages, results)
	}

	result.Reasoning = reasoning.String()
	if summary != req.Summary {
		result.NewSummary = summary
	}
	return result, nil
}

// stream runs one model call, relaying deltas to the sink as they arrive.
func (l *Loop) stream(ctx context.Context, call CallRequest, sink Sink, reasoning *strings.Builder) (string, []ToolCall, Usage, error) {
	var (
		text  strings.Builder
		calls []ToolCall
		usage Usage
	)

	stream, err := l.provider.Stream(ctx, call)
	if err != nil {
		return "", nil, usage, err
	}
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text.String(), calls, usage, err
		}
		switch event.Type {
		case EventTextDelta:
			text.WriteString(event.Text)
			sink.OnToken(event.Text)
		case EventReasoningDelta:
			reasoning.WriteString(event.Text)
			sink.OnReasoning(event.Text)
		case EventToolCall:
			if event.Tool != nil {
				calls = append(calls, *event.Tool)
			}
		case EventUsage:
			if event.Use != nil {
				usage.InputTokens += event.Use.InputTokens
				usage.OutputTokens += event.Use.OutputTokens
			}
		case EventRetry:
			slog.Debug("retrying model call", "provider", l.provider.Name(), "attempt", event.RetryAttempt, "wait_secs", event.RetryWaitSecs)
			sink.OnStatusChange(StatusRetrying)
		}
	}
	return text.String(), calls, usage, nil
}

// executeToolCalls runs calls in order and returns one tool message holding
// every result.
func (l *Loop) executeToolCalls(ctx context.Context, tools *Registry, calls []ToolCall, sink Sink) Message {
	msg := Message{Role: RoleTool}
	for _, call := range calls {
		sink.OnToolCall(call)
		sink.OnStatusChange(StatusToolRunning)

		output, isErr := executeTool(ctx, tools, call)
		sink.OnToolResult(call, output)
		msg.Parts = append(msg.Parts, Part{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      call.ID,
				Name:    call.Name,
				Content: output,
				IsError: isErr,
			},
		})
	}
	return msg
}

func executeTool(ctx context.Context, tools *Registry, call ToolCall) (string, bool) {
	tool, ok := tools.Get(call.Name)
	if !ok {
		return ErrorResult("unknown_tool", fmt.Sprintf("tool not registered: %s", call.Name)), true
	}
	output, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return ErrorResult("execution_failed", err.Error()), true
	}
	return output, false
}

// ErrorResult formats a tool failure the way results are reported back to
// the model and the timeline.
func ErrorResult(errType, message string) string {
	data, _ := json.Marshal(struct {
		Error   bool   `json:"error"`
		Type    string `json:"type"`
		Message string `json:"message"`
	}{true, errType, message})
	return string(data)
}

// fitContext drops the oldest history when the previous call used most of
// the context window. Dropped user prompts are folded into the summary.
func (l *Loop) fitContext(model string, history []Message, summary string, lastInput int, sink Sink) ([]Message, string) {
	if l.contextLimit == nil {
		return history, summary
	}
	limit := l.contextLimit(model)
	used := max(lastInput, estimateTokens(history))
	if limit <= 0 || float64(used) <= truncateRatio*float64(limit) {
		return history, summary
	}

	// Keep the newer half, starting at a user message so tool results are
	// never separated from their calls.
	cut := len(history) / 2
	for cut < len(history) && !startsExchange(history[cut]) {
		cut++
	}
	if cut == 0 || cut >= len(history) {
		return history, summary
	}

	removed := history[:cut]
	kept := append([]Message(nil), history[cut:]...)
	after := used * estimateTokens(kept) / max(1, estimateTokens(history))

	sink.OnStatusChange(StatusContextTruncated)
	sink.OnContextManaged(ContextInfo{
		WasTruncated:    true,
		MessagesRemoved: len(removed),
		TokensBefore:    used,
		TokensAfter:     after,
	})
	return kept, appendSummary(summary, removed)
}

func startsExchange(m Message) bool {
	if m.Role != RoleUser {
		return false
	}
	for _, p := range m.Parts {
		if p.Type == PartToolResult {
			return false
		}
	}
	return true
}

func appendSummary(summary string, removed []Message) string {
	var b strings.Builder
	b.WriteString(summary)
	for _, m := range removed {
		if m.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		if len(text) > summaryLimit {
			text = text[:summaryLimit] + "..."
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- user asked: ")
		b.WriteString(text)
	}
	return b.String()
}

func systemPrompt(system, summary string) string {
	if summary == "" {
		return system
	}
	return system + "\n\nEarlier parts of this conversation were removed. Summary:\n" + summary
}

// estimateTokens approximates the prompt size at four bytes per token.
func estimateTokens(messages []Message) int {
	n := 0
	for _, m := range messages {
		for _, p := range m.Parts {
			n += len(p.Text)
			if p.ToolCall != nil {
				n += len(p.ToolCall.Arguments)
			}
			if p.ToolResult != nil {
				n += len(p.ToolResult.Content)
			}
		}
	}
	return n / 4
}

func buildAssistantMessage(text string, calls []ToolCall) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func ensureToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d", i+1)
		}
	}
	return calls
}

func dedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		if _, ok := seen[call.ID]; ok {
			continue
		}
		seen[call.ID] = struct{}{}
		out = append(out, call)
	}
	return out
}
