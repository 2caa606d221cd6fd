// Package mode tracks the operating mode across turns and appends the
// reminder text the model needs when entering or leaving plan mode.
package mode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Mode is an agent operating mode.
type Mode string

const (
	// Build is the default mode with full tool access.
	Build Mode = "build"
	// Plan is read-only apart from the session's plan file.
	Plan Mode = "plan"
)

// Parse maps a user-supplied agent name to a Mode, defaulting to Build.
func Parse(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(Plan)) {
		return Plan
	}
	return Build
}

const planReminder = `<system-reminder>
Plan mode is active. You must not edit project files, run commands that change state, or make commits.
Investigate the codebase with read-only tools, then write your implementation plan to the plan file:
%s
The plan file is the only file you may write. When the plan is complete, call the plan_exit tool to ask the user for approval.
</system-reminder>`

const buildSwitchReminder = `<system-reminder>
The user approved the plan and switched to build mode. Plan mode restrictions no longer apply.
Read the plan file and implement it:
%s
</system-reminder>`

// Manager remembers the mode of the previous turn.
type Manager struct {
	mu       sync.Mutex
	dataDir  string
	previous Mode
}

// NewManager creates a manager storing plan files under dataDir/plans.
func NewManager(dataDir string) *Manager {
	return &Manager{dataDir: dataDir, previous: Build}
}

// Previous returns the mode of the last composed turn.
func (m *Manager) Previous() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// SetPrevious overrides the remembered mode, e.g. after loading a session.
func (m *Manager) SetPrevious(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = mode
}

// PlanFile returns the plan file path for a session.
func (m *Manager) PlanFile(sessionID string) string {
	return filepath.Join(m.dataDir, "plans", sessionID+".md")
}

// EnsurePlanFile creates the session's plan file if it does not exist.
func (m *Manager) EnsurePlanFile(sessionID string) (string, error) {
	path := m.PlanFile(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("create plans dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return path, nil
		}
		return path, fmt.Errorf("create plan file: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString("# Plan\n\n")
	return path, err
}

// Compose returns content with any reminder for this turn appended.
// In plan mode the plan reminder is always added. Otherwise, when the caller
// flags an explicit switch and the previous turn was in plan mode, the
// build-switch reminder is added once. The effective mode is remembered for
// the next call.
func (m *Manager) Compose(sessionID, content string, effective Mode, modeSwitch bool) string {
	m.mu.Lock()
	previous := m.previous
	m.previous = effective
	m.mu.Unlock()

	switch {
	case effective == Plan:
		// A missing plan file is not fatal; the reminder still names it.
		path, _ := m.EnsurePlanFile(sessionID)
		return content + "\n\n" + fmt.Sprintf(planReminder, path)
	case modeSwitch && previous == Plan:
		return content + "\n\n" + fmt.Sprintf(buildSwitchReminder, m.PlanFile(sessionID))
	default:
		return content
	}
}
