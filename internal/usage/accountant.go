// Package usage keeps running token totals and context-window occupancy for
// a session.
package usage

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/stratuscode/stratus/internal/timeline"
)

// Totals are lifetime token counts for a session.
type Totals struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ContextUsage is the occupancy of the model's context window measured by
// the most recent call's prompt tokens.
type ContextUsage struct {
	Used    int `json:"used"`
	Limit   int `json:"limit"`
	Percent int `json:"percent"`
}

// TotalsReader loads persisted aggregate totals for a session.
type TotalsReader interface {
	TokenTotals(ctx context.Context, sessionID string) (input, output int, err error)
}

// Accountant tracks per-turn tokens, session totals and context usage.
type Accountant struct {
	mu        sync.Mutex
	overrides map[string]int
	turn      timeline.TokenUsage
	session   Totals
	context   ContextUsage
}

// NewAccountant creates an accountant. overrides extends the context limit
// table and may be nil.
func NewAccountant(overrides map[string]int) *Accountant {
	return &Accountant{
		overrides: overrides,
		context:   ContextUsage{Limit: DefaultContextLimit},
	}
}

// Percent returns min(99, round(used/limit*100)), or 0 when nothing is used.
// 100 is never reported: the engine truncates or summarizes before the
// window is actually exhausted.
func Percent(used, limit int) int {
	if used <= 0 || limit <= 0 {
		return 0
	}
	p := int(math.Round(float64(used) / float64(limit) * 100))
	return min(p, 99)
}

// RecordTurn stores the usage of a finished turn. lastInput is the prompt
// size of the final model call and drives context usage; when the engine
// does not report it, input is used instead.
func (a *Accountant) RecordTurn(model string, input, output, lastInput int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lastInput <= 0 {
		lastInput = input
	}
	a.turn = timeline.TokenUsage{Input: input, Output: output, Context: lastInput, Model: model}
	a.session.Input += input
	a.session.Output += output
	a.setContextLocked(model, lastInput)
}

// SetModel recomputes the limit for a newly selected model.
func (a *Accountant) SetModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setContextLocked(model, a.context.Used)
}

// Refresh replaces the session totals with the persisted aggregate. On error
// the in-memory totals are kept.
func (a *Accountant) Refresh(ctx context.Context, r TotalsReader, sessionID string) {
	if r == nil || sessionID == "" {
		return
	}
	in, out, err := r.TokenTotals(ctx, sessionID)
	if err != nil {
		slog.Debug("token totals refresh failed", "session", sessionID, "error", err)
		return
	}
	a.mu.Lock()
	a.session = Totals{Input: in, Output: out}
	a.mu.Unlock()
}

// Restore seeds the accountant from a loaded session.
func (a *Accountant) Restore(model string, totals Totals, lastInput int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turn = timeline.TokenUsage{}
	a.session = totals
	a.setContextLocked(model, lastInput)
}

// Reset zeroes everything, keeping the context limit for model.
func (a *Accountant) Reset(model string) {
	a.Restore(model, Totals{}, 0)
}

// Turn returns the token usage of the most recent turn.
func (a *Accountant) Turn() timeline.TokenUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turn
}

// Session returns lifetime totals.
func (a *Accountant) Session() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Context returns the current context usage.
func (a *Accountant) Context() ContextUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.context
}

func (a *Accountant) setContextLocked(model string, used int) {
	limit := ContextLimit(model, a.overrides)
	a.context = ContextUsage{Used: used, Limit: limit, Percent: Percent(used, limit)}
}
