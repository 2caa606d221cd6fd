package turn

import (
	"github.com/stratuscode/stratus/internal/session"
	"github.com/stratuscode/stratus/internal/timeline"
	"github.com/stratuscode/stratus/internal/usage"
)

// State is a snapshot of the controller, sent to the rendering layer.
type State struct {
	Messages                []session.Message   `json:"messages"`
	IsLoading               bool                `json:"isLoading"`
	Error                   string              `json:"error,omitempty"`
	TimelineEvents          []timeline.Event    `json:"timelineEvents"`
	SessionTokens           usage.Totals        `json:"sessionTokens"`
	ContextUsage            usage.ContextUsage  `json:"contextUsage"`
	ContextStatus           string              `json:"contextStatus,omitempty"`
	Tokens                  timeline.TokenUsage `json:"tokens"`
	SessionID               string              `json:"sessionId"`
	PlanExitProposed        bool                `json:"planExitProposed"`
	Agent                   string              `json:"agent"`
	ModelOverride           string              `json:"modelOverride,omitempty"`
	ProviderOverride        string              `json:"providerOverride,omitempty"`
	ReasoningEffortOverride string              `json:"reasoningEffortOverride,omitempty"`
}

// TokensUpdate is published after every completed turn.
type TokensUpdate struct {
	Tokens        timeline.TokenUsage `json:"tokens"`
	SessionTokens usage.Totals        `json:"sessionTokens"`
	ContextUsage  usage.ContextUsage  `json:"contextUsage"`
}

// Attachment is an image sent along with a user message.
type Attachment struct {
	Type string `json:"type"` // "image"
	Data string `json:"data"` // base64
	Mime string `json:"mime"`
}

// SubmitOptions modify a single turn.
type SubmitOptions struct {
	// Mode overrides the session's agent for this turn only.
	Mode string
	// ModeSwitch marks an explicit user switch, e.g. approving a plan.
	ModeSwitch      bool
	Attachments     []Attachment
	ReasoningEffort string
}

// Listener observes the controller. Calls may arrive from the ticker and
// engine goroutines; implementations must be safe for concurrent use.
type Listener interface {
	State(State)
	TimelineEvent(timeline.Event)
	TokensUpdate(TokensUpdate)
	ContextStatus(status string)
	PlanExitProposed(proposed bool)
	SessionChanged(sessionID string)
	Error(message string)
}

type nopListener struct{}

func (nopListener) State(State)                  {}
func (nopListener) TimelineEvent(timeline.Event) {}
func (nopListener) TokensUpdate(TokensUpdate)    {}
func (nopListener) ContextStatus(string)         {}
func (nopListener) PlanExitProposed(bool)        {}
func (nopListener) SessionChanged(string)        {}
func (nopListener) Error(string)                 {}
