package rpc

import (
	"log/slog"

	"github.com/stratuscode/stratus/internal/timeline"
	"github.com/stratuscode/stratus/internal/turn"
)

// Notifier forwards controller updates to the client as notifications.
type Notifier struct {
	conn *Conn
}

var _ turn.Listener = (*Notifier)(nil)

// NewNotifier creates a listener writing to conn.
func NewNotifier(conn *Conn) *Notifier {
	return &Notifier{conn: conn}
}

func (n *Notifier) notify(method string, params any) {
	if err := n.conn.Notify(method, params); err != nil {
		slog.Debug("notification not sent", "method", method, "error", err)
	}
}

func (n *Notifier) State(s turn.State) {
	n.notify("state", s)
}

func (n *Notifier) TimelineEvent(ev timeline.Event) {
	n.notify("timeline_event", ev)
}

func (n *Notifier) TokensUpdate(u turn.TokensUpdate) {
	n.notify("tokens_update", u)
}

// ContextStatus sends null once the advisory has expired.
func (n *Notifier) ContextStatus(status string) {
	if status == "" {
		n.notify("context_status", nil)
		return
	}
	n.notify("context_status", status)
}

func (n *Notifier) PlanExitProposed(proposed bool) {
	n.notify("plan_exit_proposed", proposed)
}

func (n *Notifier) SessionChanged(id string) {
	n.notify("session_changed", id)
}

func (n *Notifier) Error(msg string) {
	n.notify("error", map[string]string{"message": msg})
}
