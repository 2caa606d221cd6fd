package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stratuscode/stratus/internal/agent"
)

// ErrQuestionNotFound is returned when answering a question that is no
// longer pending.
var ErrQuestionNotFound = errors.New("question not found")

// QuestionOption is one predefined answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionInfo is a question as the client renders it.
type QuestionInfo struct {
	ID            string           `json:"id"`
	Question      string           `json:"question"`
	Header        string           `json:"header,omitempty"`
	Options       []QuestionOption `json:"options"`
	AllowMultiple bool             `json:"allowMultiple,omitempty"`
	AllowCustom   bool             `json:"allowCustom,omitempty"`
}

// PendingQuestion is a question waiting for the user.
type PendingQuestion struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Questions []QuestionInfo `json:"questions"`
}

type questionReply struct {
	answers []string
	skipped bool
}

type pendingEntry struct {
	q     PendingQuestion
	seq   uint64
	reply chan questionReply
}

// QuestionBroker parks agent questions until the client answers or skips
// them. The agent side blocks in Ask; the client polls Pending.
type QuestionBroker struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingEntry
}

// NewQuestionBroker creates an empty broker.
func NewQuestionBroker() *QuestionBroker {
	return &QuestionBroker{pending: make(map[string]*pendingEntry)}
}

// Ask publishes questions for sessionID and waits for the reply. The
// question is withdrawn when ctx is done.
func (b *QuestionBroker) Ask(ctx context.Context, sessionID string, questions []QuestionInfo) (answers []string, skipped bool, err error) {
	e := &pendingEntry{
		q: PendingQuestion{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Questions: questions,
		},
		reply: make(chan questionReply, 1),
	}
	b.mu.Lock()
	b.seq++
	e.seq = b.seq
	b.pending[e.q.ID] = e
	b.mu.Unlock()

	select {
	case r := <-e.reply:
		return r.answers, r.skipped, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, e.q.ID)
		b.mu.Unlock()
		return nil, false, ctx.Err()
	}
}

// Pending returns the session's open questions, oldest first.
func (b *QuestionBroker) Pending(sessionID string) []PendingQuestion {
	b.mu.Lock()
	defer b.mu.Unlock()
	var entries []*pendingEntry
	for _, e := range b.pending {
		if e.q.SessionID == sessionID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]PendingQuestion, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.q)
	}
	return out
}

// Answer resolves a pending question.
func (b *QuestionBroker) Answer(id string, answers []string) error {
	return b.resolve(id, questionReply{answers: answers})
}

// Skip resolves a pending question without an answer.
func (b *QuestionBroker) Skip(id string) error {
	return b.resolve(id, questionReply{skipped: true})
}

func (b *QuestionBroker) resolve(id string, r questionReply) error {
	b.mu.Lock()
	e, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrQuestionNotFound, id)
	}
	e.reply <- r
	return nil
}

// QuestionTool asks the user one question and waits for the answer.
type QuestionTool struct {
	broker    *QuestionBroker
	sessionID string
}

// NewQuestionTool creates the question tool for a session.
func NewQuestionTool(broker *QuestionBroker, sessionID string) *QuestionTool {
	return &QuestionTool{broker: broker, sessionID: sessionID}
}

// QuestionArgs are the arguments for question.
type QuestionArgs struct {
	Question      string           `json:"question"`
	Header        string           `json:"header,omitempty"`
	Options       []QuestionOption `json:"options"`
	AllowMultiple bool             `json:"allow_multiple,omitempty"`
	AllowCustom   bool             `json:"allow_custom,omitempty"`
}

type questionResult struct {
	Answers []string `json:"answers,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
	Message string   `json:"message,omitempty"`
}

func (t *QuestionTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name: QuestionToolName,
		Description: `Ask the user a question and wait for the answer. Use this for decisions you cannot make from the code:
preferences, ambiguous requirements, or a choice between approaches. Offer 2-8 short options.`,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The full question text",
				},
				"header": map[string]interface{}{
					"type":        "string",
					"description": "Short label, e.g. 'Database'",
				},
				"options": map[string]interface{}{
					"type":        "array",
					"description": "Predefined answers",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"label": map[string]interface{}{
								"type":        "string",
								"description": "Short option label (1-5 words)",
							},
							"description": map[string]interface{}{
								"type":        "string",
								"description": "What this option means",
							},
						},
						"required": []string{"label"},
					},
					"minItems": 2,
					"maxItems": 8,
				},
				"allow_multiple": map[string]interface{}{
					"type":        "boolean",
					"description": "Let the user pick several options",
				},
				"allow_custom": map[string]interface{}{
					"type":        "boolean",
					"description": "Let the user type a free-form answer",
				},
			},
			"required":             []string{"question", "options"},
			"additionalProperties": false,
		},
	}
}

func (t *QuestionTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a QuestionArgs
	warning, terr := decodeArgs(args, &a, "question", "header", "options", "allow_multiple", "allow_custom")
	if terr != nil {
		return formatToolError(terr), nil
	}
	if strings.TrimSpace(a.Question) == "" {
		return formatToolErrorf(ErrInvalidParams, "question is required"), nil
	}
	if len(a.Options) < 2 || len(a.Options) > 8 {
		return formatToolErrorf(ErrInvalidParams, "between 2 and 8 options are required, got %d", len(a.Options)), nil
	}
	for i, o := range a.Options {
		if strings.TrimSpace(o.Label) == "" {
			return formatToolErrorf(ErrInvalidParams, "option %d: label is required", i+1), nil
		}
	}

	answers, skipped, err := t.broker.Ask(ctx, t.sessionID, []QuestionInfo{{
		ID:            uuid.NewString(),
		Question:      a.Question,
		Header:        a.Header,
		Options:       a.Options,
		AllowMultiple: a.AllowMultiple,
		AllowCustom:   a.AllowCustom,
	}})
	if err != nil {
		return formatToolErrorf(ErrExecutionFailed, "question cancelled: %v", err), nil
	}

	res := questionResult{Answers: answers}
	if skipped {
		res = questionResult{Skipped: true, Message: "The user skipped the question. Proceed with your best judgement."}
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return warning + string(out), nil
}
