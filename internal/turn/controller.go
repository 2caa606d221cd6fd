// Package turn drives one user submission through the agent engine and keeps
// the session's visible state consistent while it streams.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/credentials"
	"github.com/stratuscode/stratus/internal/flush"
	"github.com/stratuscode/stratus/internal/mode"
	"github.com/stratuscode/stratus/internal/prompt"
	"github.com/stratuscode/stratus/internal/reference"
	"github.com/stratuscode/stratus/internal/session"
	"github.com/stratuscode/stratus/internal/timeline"
	"github.com/stratuscode/stratus/internal/tooltrack"
	"github.com/stratuscode/stratus/internal/tools"
	"github.com/stratuscode/stratus/internal/usage"
)

// DefaultStatusTTL is how long a context advisory stays visible.
const DefaultStatusTTL = 15 * time.Second

var (
	// ErrBusy is returned by operations that cannot run while a turn is active.
	ErrBusy = errors.New("a turn is in progress")
	// ErrUnknownTool is returned by ExecuteTool for a tool clients cannot run.
	ErrUnknownTool = errors.New("unknown tool")
)

// Options configures a Controller. Engine and Store are required.
type Options struct {
	Engine   agent.Engine
	Store    session.Store
	Listener Listener

	// Credentials and CredentialSource keep OAuth tokens fresh before each
	// turn. Both may be nil.
	Credentials      *credentials.Coalescer
	CredentialSource credentials.Source

	Modes    *mode.Manager
	Expander *reference.Expander
	// Tools builds the registry for a turn. Defaults to tools.ForMode.
	Tools func(m mode.Mode, sessionID string) *agent.Registry

	// Session services shared with the tools and the RPC server. Nil ones
	// leave their tools out.
	Todos     *tools.TodoStore
	Questions *tools.QuestionBroker
	History   *tools.FileHistory
	Index     *reference.Index
	// ResolveModel returns the default model of a provider key.
	ResolveModel func(provider string) string

	ProjectDir      string
	Agent           string
	Provider        string
	Model           string
	ReasoningEffort string
	Instructions    string
	MaxTurns        int
	FlushInterval   time.Duration
	StatusTTL       time.Duration
	ContextLimits   map[string]int
}

// Controller owns the state of one session and runs its turns, at most one
// at a time.
type Controller struct {
	opts     Options
	engine   agent.Engine
	store    session.Store
	listener Listener
	modes    *mode.Manager
	expander *reference.Expander

	mu sync.Mutex
	// events and acct belong to the session on screen and are replaced,
	// never cleared, when it changes. A turn that outlives its session keeps
	// writing to the old ones.
	events           *timeline.Store
	acct             *usage.Accountant
	epoch            uint64
	sessionID        string
	persisted        bool
	messages         []session.Message
	history          []agent.Message
	summary          string
	isLoading        bool
	errMsg           string
	planExitProposed bool
	contextStatus    string
	statusTimer      *time.Timer
	agent            mode.Mode
	modelOverride    string
	providerOverride string
	effortOverride   string
	cancel           context.CancelFunc
	gen              uint64
}

// New creates a controller with a fresh, not yet persisted session.
func New(opts Options) *Controller {
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = DefaultStatusTTL
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = flush.DefaultInterval
	}
	if opts.Modes == nil {
		dataDir, err := session.GetDataDir()
		if err != nil {
			dataDir = opts.ProjectDir
		}
		opts.Modes = mode.NewManager(dataDir)
	}
	if opts.Expander == nil {
		opts.Expander = reference.NewExpander(opts.ProjectDir, 0, 0)
	}
	if opts.Index == nil {
		opts.Index = reference.NewIndex(opts.ProjectDir)
	}
	if opts.Tools == nil {
		opts.Tools = func(m mode.Mode, sessionID string) *agent.Registry {
			return tools.ForMode(m, toolEnv(opts, sessionID))
		}
	}

	c := &Controller{
		opts:      opts,
		engine:    opts.Engine,
		store:     opts.Store,
		listener:  opts.Listener,
		modes:     opts.Modes,
		expander:  opts.Expander,
		events:    timeline.NewStore(nil),
		acct:      usage.NewAccountant(opts.ContextLimits),
		sessionID: session.NewID(),
		agent:     mode.Parse(opts.Agent),
	}
	c.acct.Reset(c.currentModelLocked())
	return c
}

// SessionID returns the id of the current session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// IsLoading reports whether a turn is active.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLoading
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Messages:                append([]session.Message(nil), c.messages...),
		IsLoading:               c.isLoading,
		Error:                   c.errMsg,
		TimelineEvents:          c.events.Events(),
		SessionTokens:           c.acct.Session(),
		ContextUsage:            c.acct.Context(),
		ContextStatus:           c.contextStatus,
		Tokens:                  c.acct.Turn(),
		SessionID:               c.sessionID,
		PlanExitProposed:        c.planExitProposed,
		Agent:                   string(c.agent),
		ModelOverride:           c.modelOverride,
		ProviderOverride:        c.providerOverride,
		ReasoningEffortOverride: c.effortOverride,
	}
}

func (c *Controller) emitState() {
	c.listener.State(c.State())
}

// turnRun is the per-turn context shared by the sink and the finalizer.
type turnRun struct {
	gen       uint64
	epoch     uint64
	ctx       context.Context // cancelled by Abort
	persist   context.Context // never cancelled; used for best-effort writes
	sessionID string
	provider  string
	model     string
	user      session.Message
	assistant session.Message
	events    *timeline.Store
	acct      *usage.Accountant
	flusher   *flush.Flusher
	tracker   *tooltrack.Tracker
}

// Submit runs one turn and returns when it finishes. A call while a turn is
// active is dropped. Failures never escape: they surface through the error
// field, a status timeline event and the session status.
func (c *Controller) Submit(ctx context.Context, content string, opts SubmitOptions) {
	c.mu.Lock()
	if c.isLoading {
		c.mu.Unlock()
		slog.Debug("submit ignored, turn in progress")
		return
	}
	c.isLoading = true
	c.errMsg = ""
	c.gen++
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	effective := c.agent
	if opts.Mode != "" {
		effective = mode.Parse(opts.Mode)
	}
	effort := c.effortOverride
	if opts.ReasoningEffort != "" {
		effort = opts.ReasoningEffort
	}
	if effort == "" {
		effort = c.opts.ReasoningEffort
	}
	if effort == "off" {
		effort = ""
	}

	run := &turnRun{
		gen:       c.gen,
		epoch:     c.epoch,
		ctx:       runCtx,
		persist:   context.WithoutCancel(ctx),
		sessionID: c.sessionID,
		provider:  c.currentProviderLocked(),
		model:     c.currentModelLocked(),
		events:    c.events,
		acct:      c.acct,
	}
	run.user = session.Message{
		ID:        session.NewID(),
		SessionID: run.sessionID,
		Role:      session.RoleUser,
		Content:   content,
		Parts:     attachmentParts(opts.Attachments),
		CreatedAt: time.Now(),
	}
	run.assistant = session.Message{
		ID:        session.NewID(),
		SessionID: run.sessionID,
		Role:      session.RoleAssistant,
		CreatedAt: time.Now(),
	}
	history := append([]agent.Message(nil), c.history...)
	summary := c.summary
	c.messages = append(c.messages, run.user)
	c.mu.Unlock()
	defer cancel()

	run.flusher = flush.New(run.events, c.publishHook(run))
	run.flusher.Begin(run.sessionID, run.assistant.ID)
	run.tracker = tooltrack.New(run.events, &recorder{store: c.store}, c.publishHook(run))
	run.tracker.Begin(run.sessionID, run.assistant.ID)

	userEvent := run.events.Append(timeline.Event{
		SessionID:       run.sessionID,
		Kind:            timeline.KindUser,
		Content:         content,
		ParentMessageID: run.user.ID,
		Attachments:     eventAttachments(opts.Attachments),
	})
	c.listener.TimelineEvent(userEvent)
	c.emitState()

	defer c.finish(run)

	// The session row and both messages must be stored before the engine
	// runs; a failure here ends the turn.
	if err := c.beginPersist(run, effective, effort); err != nil {
		c.fail(run, fmt.Errorf("failed to save message: %w", err))
		return
	}
	c.saveEvent(run, userEvent)

	// References and mode reminders go into the outgoing text only. The
	// timeline and the stored message keep what the user typed.
	outgoing, files := c.expander.Expand(content)
	if len(files) > 0 {
		slog.Debug("expanded references", "count", len(files))
	}
	outgoing = c.modes.Compose(run.sessionID, outgoing, effective, opts.ModeSwitch)
	// A failed refresh is logged and the turn goes ahead with the old token.
	if c.opts.Credentials != nil {
		c.opts.Credentials.EnsureFresh(run.ctx, c.opts.CredentialSource, run.provider)
	}
	run.flusher.Start(c.opts.FlushInterval)

	userMsg := agentUserMessage(outgoing, opts.Attachments)
	req := agent.Request{
		SessionID:       run.sessionID,
		Provider:        run.provider,
		Model:           run.model,
		ReasoningEffort: effort,
		System:          prompt.System(c.opts.ProjectDir, effective, c.opts.Instructions),
		Messages:        append(history, userMsg),
		Tools:           c.opts.Tools(effective, run.sessionID),
		MaxTurns:        c.opts.MaxTurns,
		Summary:         summary,
	}
	result, err := c.runEngine(run, req)
	run.flusher.Stop()
	if err != nil {
		c.fail(run, err)
		c.appendHistory(run, "", userMsg, partialReply(run.flusher.Partial())...)
		return
	}
	c.complete(run, result)
	c.appendHistory(run, result.NewSummary, userMsg, result.ResponseMessages...)
}

// toolEnv collects the services a session's tools share.
func toolEnv(opts Options, sessionID string) tools.Env {
	return tools.Env{
		Root:      opts.ProjectDir,
		PlanFile:  opts.Modes.PlanFile(sessionID),
		SessionID: sessionID,
		Limits:    tools.DefaultOutputLimits(),
		Todos:     opts.Todos,
		Questions: opts.Questions,
		History:   opts.History,
		Index:     opts.Index,
	}
}

// ToolOutcome is the result of a client-run tool.
type ToolOutcome struct {
	Result string `json:"result"`
	Status string `json:"status"`
}

// ExecuteTool runs one of the client tools (revert, codesearch, todo_read)
// against the current session. The call and its result land on the
// session's timeline like an agent tool call.
func (c *Controller) ExecuteTool(ctx context.Context, name string, args json.RawMessage) (ToolOutcome, error) {
	c.mu.Lock()
	if c.isLoading {
		c.mu.Unlock()
		return ToolOutcome{}, ErrBusy
	}
	run := &turnRun{
		gen:       c.gen,
		epoch:     c.epoch,
		ctx:       ctx,
		persist:   context.WithoutCancel(ctx),
		sessionID: c.sessionID,
		events:    c.events,
	}
	persisted := c.persisted
	c.mu.Unlock()

	tool, ok := tools.ForUser(toolEnv(c.opts, run.sessionID)).Get(name)
	if !ok {
		return ToolOutcome{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	// A session that was never stored has nothing to attach the audit rows
	// and events to; they only reach the listener.
	var rec tooltrack.Recorder
	hook := func(ev timeline.Event, created bool) {
		if c.isCurrent(run) {
			c.listener.TimelineEvent(ev)
		}
	}
	if persisted {
		rec = &recorder{store: c.store}
		hook = c.publishHook(run)
	}
	tracker := tooltrack.New(run.events, rec, hook)
	tracker.Begin(run.sessionID, "")

	call := tooltrack.Call{ID: "user-" + session.NewID(), Name: name, Arguments: args}
	tracker.OnCall(run.persist, call)
	result, err := tool.Execute(ctx, args)
	if err != nil {
		result = agent.ErrorResult("EXECUTION_FAILED", err.Error())
	}
	tracker.OnResult(run.persist, call, result)
	status, _ := tracker.Status(call.ID)

	slog.Debug("client tool executed", "session", run.sessionID, "tool", name, "status", status)
	c.emitState()
	return ToolOutcome{Result: result, Status: string(status)}, nil
}

// runEngine calls the engine, converting a panic into an error.
func (c *Controller) runEngine(run *turnRun, req agent.Request) (res *agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent engine panicked", "panic", r)
			res, err = nil, fmt.Errorf("%v", r)
		}
	}()
	res, err = c.engine.Run(run.ctx, req, &sink{c: c, run: run})
	if err == nil && res == nil {
		res = &agent.Result{}
	}
	return res, err
}

// beginPersist creates the session row on first use and stores the user
// message and the placeholder assistant message.
func (c *Controller) beginPersist(run *turnRun, effective mode.Mode, effort string) error {
	ctx := run.persist

	c.mu.Lock()
	persisted := c.persisted
	c.mu.Unlock()

	if !persisted {
		sess := &session.Session{
			ID:              run.sessionID,
			Title:           session.TruncateTitle(run.user.Content),
			ProjectDir:      c.opts.ProjectDir,
			Agent:           string(effective),
			Provider:        run.provider,
			Model:           run.model,
			ReasoningEffort: effort,
			Status:          session.StatusActive,
		}
		if err := c.store.Create(ctx, sess); err != nil {
			return err
		}
		c.mu.Lock()
		if c.sessionID == run.sessionID {
			c.persisted = true
		}
		c.mu.Unlock()
		if err := c.store.SetCurrent(ctx, run.sessionID); err != nil {
			slog.Debug("current session not recorded", "error", err)
		}
	} else if err := c.store.UpdateStatus(ctx, run.sessionID, session.StatusActive); err != nil {
		slog.Debug("session status not updated", "error", err)
	}

	if err := c.store.AddMessage(ctx, run.sessionID, &run.user); err != nil {
		return err
	}
	return c.store.AddMessage(ctx, run.sessionID, &run.assistant)
}

// complete flushes the last text, records usage and marks the session
// completed.
func (c *Controller) complete(run *turnRun, result *agent.Result) {
	run.flusher.Finish()

	content := run.flusher.Partial()
	if content == "" && result.Content != "" {
		// The engine answered without streaming.
		ev := run.events.Append(timeline.Event{
			SessionID:       run.sessionID,
			Kind:            timeline.KindAssistant,
			Content:         result.Content,
			ParentMessageID: run.assistant.ID,
		})
		c.publish(run, ev, true)
		content = result.Content
	}

	run.acct.RecordTurn(run.model, result.InputTokens, result.OutputTokens, result.LastInputTokens)
	tokens := run.acct.Turn()
	run.assistant.Content = content
	run.assistant.Tokens = &tokens
	if err := c.store.UpdateMessage(run.persist, &run.assistant); err != nil {
		slog.Debug("assistant message not updated", "error", err)
	}
	run.acct.Refresh(run.persist, c.store, run.sessionID)
	if err := c.store.UpdateStatus(run.persist, run.sessionID, session.StatusCompleted); err != nil {
		slog.Debug("session status not updated", "error", err)
	}

	c.mu.Lock()
	current := c.epoch == run.epoch
	if current {
		c.messages = append(c.messages, run.assistant)
	}
	c.mu.Unlock()

	if current {
		c.listener.TokensUpdate(TokensUpdate{
			Tokens:        tokens,
			SessionTokens: run.acct.Session(),
			ContextUsage:  run.acct.Context(),
		})
	}
}

// fail keeps what streamed, stores the error on the assistant message and
// appends a status event.
func (c *Controller) fail(run *turnRun, err error) {
	run.flusher.Finish()

	msg := err.Error()
	if errors.Is(err, context.Canceled) && run.ctx.Err() != nil {
		msg = "aborted"
	}
	partial := run.flusher.Partial()
	content := "Error: " + msg
	if partial != "" {
		content = partial + "\n\n[Error: " + msg + "]"
	}

	run.assistant.Content = content
	if uerr := c.store.UpdateMessage(run.persist, &run.assistant); uerr != nil {
		slog.Debug("assistant message not updated", "error", uerr)
	}
	ev := run.events.Append(timeline.Event{
		SessionID:       run.sessionID,
		Kind:            timeline.KindStatus,
		Content:         "Error: " + msg,
		Status:          "error",
		ParentMessageID: run.assistant.ID,
	})
	c.publish(run, ev, true)
	if serr := c.store.UpdateStatus(run.persist, run.sessionID, session.StatusFailed); serr != nil {
		slog.Debug("session status not updated", "error", serr)
	}

	c.mu.Lock()
	current := c.gen == run.gen
	if current {
		c.errMsg = msg
	}
	if c.epoch == run.epoch {
		c.messages = append(c.messages, run.assistant)
	}
	c.mu.Unlock()

	slog.Warn("turn failed", "session", run.sessionID, "error", err)
	if current {
		c.listener.Error(msg)
	}
}

// finish runs last on every path. An aborted turn that returns after a
// newer turn has started leaves the newer turn's loading flag alone.
func (c *Controller) finish(run *turnRun) {
	run.flusher.Stop()
	run.tracker.Reset()

	c.mu.Lock()
	if c.gen == run.gen {
		c.isLoading = false
		c.cancel = nil
	}
	c.mu.Unlock()
	c.emitState()
}

// appendHistory extends the engine history, unless the session changed
// while the turn ran.
func (c *Controller) appendHistory(run *turnRun, summary string, user agent.Message, replies ...agent.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != run.epoch {
		return
	}
	c.history = append(c.history, user)
	c.history = append(c.history, replies...)
	if summary != "" {
		c.summary = summary
	}
}

// isCurrent reports whether run still belongs to the session on screen.
func (c *Controller) isCurrent(run *turnRun) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == run.epoch
}

// Abort cancels the active turn and clears the loading flag at once. The
// engine is expected to return promptly; its finalize path still runs.
func (c *Controller) Abort() {
	c.mu.Lock()
	if !c.isLoading {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.isLoading = false
	c.mu.Unlock()
	c.emitState()
}

// Clear aborts any active turn and starts a new empty session.
func (c *Controller) Clear() {
	c.Abort()

	c.mu.Lock()
	c.gen++
	c.epoch++
	c.sessionID = session.NewID()
	c.persisted = false
	c.messages = nil
	c.history = nil
	c.summary = ""
	c.errMsg = ""
	c.planExitProposed = false
	c.clearStatusLocked()
	c.events = timeline.NewStore(nil)
	c.acct = usage.NewAccountant(c.opts.ContextLimits)
	c.acct.Reset(c.currentModelLocked())
	id := c.sessionID
	c.mu.Unlock()

	c.modes.SetPrevious(c.currentAgent())
	if err := c.store.ClearCurrent(context.Background()); err != nil {
		slog.Debug("current session not cleared", "error", err)
	}

	c.listener.SessionChanged(id)
	c.emitState()
}

// LoadSession replaces the current session with a stored one.
func (c *Controller) LoadSession(ctx context.Context, id string) error {
	if c.IsLoading() {
		return ErrBusy
	}
	sess, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := c.store.GetMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	events, err := c.store.GetEvents(ctx, id)
	if err != nil {
		return fmt.Errorf("load timeline: %w", err)
	}
	in, out, err := c.store.TokenTotals(ctx, id)
	if err != nil {
		return fmt.Errorf("load token totals: %w", err)
	}

	lastInput := 0
	history := make([]agent.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case session.RoleUser:
			history = append(history, agent.UserText(m.Content))
		case session.RoleAssistant:
			if m.Content != "" {
				history = append(history, agent.AssistantText(m.Content))
			}
			if m.Tokens != nil && m.Tokens.Context > 0 {
				lastInput = m.Tokens.Context
			}
		}
	}

	c.mu.Lock()
	if c.isLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.gen++
	c.epoch++
	c.sessionID = sess.ID
	c.persisted = true
	c.messages = msgs
	c.history = history
	c.summary = ""
	c.errMsg = ""
	c.planExitProposed = false
	c.clearStatusLocked()
	if sess.Agent != "" {
		c.agent = mode.Parse(sess.Agent)
	}
	if sess.Model != "" && sess.Model != c.opts.Model {
		c.modelOverride = sess.Model
	}
	if sess.Provider != "" && sess.Provider != c.opts.Provider {
		c.providerOverride = sess.Provider
	}
	c.effortOverride = sess.ReasoningEffort
	c.events = timeline.NewStore(nil)
	c.events.Reset(events)
	c.acct = usage.NewAccountant(c.opts.ContextLimits)
	c.acct.Restore(c.currentModelLocked(), usage.Totals{Input: in, Output: out}, lastInput)
	agentMode := c.agent
	c.mu.Unlock()

	c.modes.SetPrevious(agentMode)
	if err := c.store.SetCurrent(ctx, id); err != nil {
		slog.Debug("current session not recorded", "error", err)
	}

	c.listener.SessionChanged(id)
	c.emitState()
	return nil
}

// SetAgent sets the session's default mode.
func (c *Controller) SetAgent(name string) {
	c.mu.Lock()
	c.agent = mode.Parse(name)
	c.mu.Unlock()
	c.updateSession(func(s *session.Session) { s.Agent = string(mode.Parse(name)) })
	c.emitState()
}

// SetModel overrides the model for following turns.
func (c *Controller) SetModel(model string) {
	c.mu.Lock()
	c.modelOverride = model
	current := c.currentModelLocked()
	acct := c.acct
	c.mu.Unlock()
	acct.SetModel(current)
	c.updateSession(func(s *session.Session) { s.Model = current })
	c.emitState()
}

// SetProvider overrides the provider for following turns. An empty key
// returns to the configured provider.
func (c *Controller) SetProvider(provider string) {
	c.mu.Lock()
	c.providerOverride = provider
	current := c.currentProviderLocked()
	model := c.currentModelLocked()
	acct := c.acct
	c.mu.Unlock()
	acct.SetModel(model)
	c.updateSession(func(s *session.Session) {
		s.Provider = current
		s.Model = model
	})
	c.emitState()
}

// SetReasoningEffort overrides the reasoning effort; "off" disables it.
func (c *Controller) SetReasoningEffort(effort string) {
	c.mu.Lock()
	c.effortOverride = effort
	c.mu.Unlock()
	c.updateSession(func(s *session.Session) { s.ReasoningEffort = effort })
	c.emitState()
}

// ResetPlanExit clears a pending plan-exit proposal.
func (c *Controller) ResetPlanExit() {
	c.mu.Lock()
	c.planExitProposed = false
	c.mu.Unlock()
	c.listener.PlanExitProposed(false)
	c.emitState()
}

func (c *Controller) updateSession(fn func(*session.Session)) {
	c.mu.Lock()
	id, persisted := c.sessionID, c.persisted
	c.mu.Unlock()
	if !persisted {
		return
	}
	ctx := context.Background()
	sess, err := c.store.Get(ctx, id)
	if err != nil {
		slog.Debug("session not loaded for update", "error", err)
		return
	}
	fn(sess)
	if err := c.store.Update(ctx, sess); err != nil {
		slog.Debug("session not updated", "error", err)
	}
}

func (c *Controller) currentAgent() mode.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

func (c *Controller) currentProviderLocked() string {
	if c.providerOverride != "" {
		return c.providerOverride
	}
	return c.opts.Provider
}

func (c *Controller) currentModelLocked() string {
	if c.modelOverride != "" {
		return c.modelOverride
	}
	if c.providerOverride != "" && c.providerOverride != c.opts.Provider && c.opts.ResolveModel != nil {
		return c.opts.ResolveModel(c.providerOverride)
	}
	return c.opts.Model
}

// setContextStatus shows an advisory that clears itself after StatusTTL.
// A newer advisory replaces the older one and restarts the timer.
func (c *Controller) setContextStatus(run *turnRun, status string) {
	c.mu.Lock()
	if c.epoch != run.epoch {
		c.mu.Unlock()
		return
	}
	c.clearStatusLocked()
	c.contextStatus = status
	var timer *time.Timer
	timer = time.AfterFunc(c.opts.StatusTTL, func() {
		c.mu.Lock()
		if c.statusTimer != timer {
			c.mu.Unlock()
			return
		}
		c.statusTimer = nil
		c.contextStatus = ""
		c.mu.Unlock()
		c.listener.ContextStatus("")
		c.emitState()
	})
	c.statusTimer = timer
	c.mu.Unlock()
	c.listener.ContextStatus(status)
}

func (c *Controller) clearStatusLocked() {
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
	c.contextStatus = ""
}

func (c *Controller) setPlanExitProposed(run *turnRun) {
	c.mu.Lock()
	if c.epoch != run.epoch {
		c.mu.Unlock()
		return
	}
	c.planExitProposed = true
	c.mu.Unlock()
	c.listener.PlanExitProposed(true)
}

// publishHook adapts flusher and tracker writes to publish.
func (c *Controller) publishHook(run *turnRun) func(timeline.Event, bool) {
	return func(ev timeline.Event, created bool) {
		c.publish(run, ev, created)
	}
}

// publish forwards an event to the listener and persists it when it is
// created or finalized. Streaming rewrites in between stay in memory. Events
// of a session that is no longer on screen are only persisted.
func (c *Controller) publish(run *turnRun, ev timeline.Event, created bool) {
	if c.isCurrent(run) {
		c.listener.TimelineEvent(ev)
	}
	if created || !ev.Streaming {
		c.saveEvent(run, ev)
	}
}

func (c *Controller) saveEvent(run *turnRun, ev timeline.Event) {
	if err := c.store.SaveEvent(run.persist, ev); err != nil {
		slog.Debug("timeline event not saved", "kind", ev.Kind, "error", err)
	}
}

func partialReply(text string) []agent.Message {
	if text == "" {
		return nil
	}
	return []agent.Message{agent.AssistantText(text)}
}

func attachmentParts(atts []Attachment) []session.Part {
	var parts []session.Part
	for _, a := range atts {
		if a.Data == "" {
			continue
		}
		parts = append(parts, session.Part{Type: "image", Mime: a.Mime, Data: a.Data})
	}
	return parts
}

func eventAttachments(atts []Attachment) []timeline.Attachment {
	var out []timeline.Attachment
	for _, a := range atts {
		if a.Data == "" {
			continue
		}
		out = append(out, timeline.Attachment{Type: "image", Mime: a.Mime, Data: a.Data})
	}
	return out
}

func agentUserMessage(text string, atts []Attachment) agent.Message {
	msg := agent.UserText(text)
	for _, a := range atts {
		if a.Data == "" {
			continue
		}
		msg.Parts = append(msg.Parts, agent.Part{Type: agent.PartImage, Mime: a.Mime, Data: a.Data})
	}
	return msg
}
