package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/reference"
	"github.com/stratuscode/stratus/internal/session"
	"github.com/stratuscode/stratus/internal/tools"
	"github.com/stratuscode/stratus/internal/turn"
)

// Backend is the controller surface the server drives.
type Backend interface {
	State() turn.State
	SessionID() string
	IsLoading() bool
	Submit(ctx context.Context, content string, opts turn.SubmitOptions)
	Abort()
	Clear()
	LoadSession(ctx context.Context, id string) error
	SetAgent(name string)
	SetModel(model string)
	SetProvider(provider string)
	SetReasoningEffort(effort string)
	ResetPlanExit()
	ExecuteTool(ctx context.Context, name string, args json.RawMessage) (turn.ToolOutcome, error)
}

// Options wires the server's secondary services. All fields are optional.
type Options struct {
	Store      session.Store
	Index      *reference.Index
	Todos      *tools.TodoStore
	Questions  *tools.QuestionBroker
	History    *tools.FileHistory
	Models     func() []agent.ModelEntry
	BaseModel  string
	ProjectDir string
}

type handler func(ctx context.Context, params json.RawMessage) (any, *Error)

// Server dispatches requests to a Backend.
type Server struct {
	conn     *Conn
	backend  Backend
	opts     Options
	handlers map[string]handler
	turns    sync.WaitGroup
}

// NewServer creates a server answering on conn.
func NewServer(conn *Conn, backend Backend, opts Options) *Server {
	s := &Server{conn: conn, backend: backend, opts: opts}
	s.handlers = map[string]handler{
		"initialize":           s.initialize,
		"get_state":            s.getState,
		"abort":                s.abort,
		"clear":                s.clear,
		"set_agent":            s.setAgent,
		"set_model":            s.setModel,
		"set_provider":         s.setProvider,
		"set_reasoning_effort": s.setReasoningEffort,
		"reset_plan_exit":      s.resetPlanExit,
		"list_sessions":        s.listSessions,
		"load_session":         s.loadSession,
		"delete_session":       s.deleteSession,
		"rename_session":       s.renameSession,
		"list_models":          s.listModels,
		"search_files":         s.searchFiles,
		"list_todos":           s.listTodos,
		"get_pending_question": s.getPendingQuestion,
		"answer_question":      s.answerQuestion,
		"skip_question":        s.skipQuestion,
		"execute_tool":         s.executeTool,
	}
	return s
}

// Serve reads requests until the input closes or ctx is cancelled. An
// active turn is aborted on exit and waited for.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		s.backend.Abort()
		s.turns.Wait()
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := s.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		case line := <-lines:
			s.handle(ctx, line)
		}
	}
}

func (s *Server) handle(ctx context.Context, line []byte) {
	req, rpcErr := parseRequest(line)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		s.reply(NewErrorResponse(id, rpcErr.Code, rpcErr.Message))
		return
	}

	// send_message blocks until the turn ends, so it runs off the read loop
	// to keep abort and get_state responsive.
	if req.Method == "send_message" {
		s.turns.Add(1)
		go func() {
			defer s.turns.Done()
			s.respond(ctx, req, s.sendMessage)
		}()
		return
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		if !req.IsNotification() {
			s.reply(NewErrorResponse(req.ID, MethodNotFound, "method not found: "+req.Method))
		}
		return
	}
	s.respond(ctx, req, h)
}

func (s *Server) respond(ctx context.Context, req *Request, h handler) {
	result, rpcErr := h(ctx, req.Params)
	if req.IsNotification() {
		return
	}
	if rpcErr != nil {
		s.reply(NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}
	s.reply(NewResponse(req.ID, result))
}

func (s *Server) reply(resp *Response) {
	if err := s.conn.SendResponse(resp); err != nil {
		slog.Debug("response not sent", "error", err)
	}
}

func serverError(err error) *Error {
	return &Error{Code: ServerError, Message: err.Error()}
}

type initializeParams struct {
	ProjectDir      string `json:"projectDir"`
	Agent           string `json:"agent"`
	Model           string `json:"model"`
	Provider        string `json:"provider"`
	ReasoningEffort string `json:"reasoningEffort"`
}

func (s *Server) initialize(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p initializeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ProjectDir != "" && s.opts.ProjectDir != "" && p.ProjectDir != s.opts.ProjectDir {
		slog.Warn("initialize project dir differs from backend", "requested", p.ProjectDir, "serving", s.opts.ProjectDir)
	}
	if p.Agent != "" {
		s.backend.SetAgent(p.Agent)
	}
	if p.Provider != "" {
		s.backend.SetProvider(p.Provider)
	}
	if p.Model != "" {
		s.backend.SetModel(p.Model)
	}
	if p.ReasoningEffort != "" {
		s.backend.SetReasoningEffort(p.ReasoningEffort)
	}
	return map[string]any{
		"state":     s.backend.State(),
		"baseModel": s.opts.BaseModel,
	}, nil
}

type sendMessageParams struct {
	Content         string            `json:"content"`
	Attachments     []turn.Attachment `json:"attachments"`
	AgentOverride   string            `json:"agentOverride"`
	Agent           string            `json:"agent"`
	ModeSwitch      bool              `json:"modeSwitch"`
	ReasoningEffort string            `json:"reasoningEffort"`
	Options         struct {
		BuildSwitch bool `json:"buildSwitch"`
	} `json:"options"`
}

func (s *Server) sendMessage(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p sendMessageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Content) == "" && len(p.Attachments) == 0 {
		return nil, &Error{Code: InvalidParams, Message: "content is required"}
	}
	mode := p.AgentOverride
	if mode == "" {
		mode = p.Agent
	}
	s.backend.Submit(ctx, p.Content, turn.SubmitOptions{
		Mode:            mode,
		ModeSwitch:      p.ModeSwitch || p.Options.BuildSwitch,
		Attachments:     p.Attachments,
		ReasoningEffort: p.ReasoningEffort,
	})
	return map[string]any{"ok": true}, nil
}

func (s *Server) getState(ctx context.Context, params json.RawMessage) (any, *Error) {
	return s.backend.State(), nil
}

func (s *Server) abort(ctx context.Context, params json.RawMessage) (any, *Error) {
	s.backend.Abort()
	return map[string]any{"ok": true}, nil
}

func (s *Server) clear(ctx context.Context, params json.RawMessage) (any, *Error) {
	s.backend.Clear()
	return s.backend.State(), nil
}

func (s *Server) setAgent(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Agent string `json:"agent"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Agent == "" {
		return nil, &Error{Code: InvalidParams, Message: "agent is required"}
	}
	s.backend.SetAgent(p.Agent)
	return s.backend.State(), nil
}

func (s *Server) setModel(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Model    string  `json:"model"`
		Provider *string `json:"provider"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Provider != nil {
		s.backend.SetProvider(*p.Provider)
	}
	s.backend.SetModel(p.Model)
	return s.backend.State(), nil
}

func (s *Server) setProvider(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Provider *string `json:"provider"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	provider := ""
	if p.Provider != nil {
		provider = *p.Provider
	}
	s.backend.SetProvider(provider)
	return s.backend.State(), nil
}

func (s *Server) setReasoningEffort(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		ReasoningEffort string `json:"reasoningEffort"`
		Effort          string `json:"effort"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	effort := p.ReasoningEffort
	if effort == "" {
		effort = p.Effort
	}
	switch effort {
	case "", "off", "low", "medium", "high":
	default:
		return nil, &Error{Code: InvalidParams, Message: fmt.Sprintf("unknown reasoning effort %q", effort)}
	}
	s.backend.SetReasoningEffort(effort)
	return s.backend.State(), nil
}

func (s *Server) resetPlanExit(ctx context.Context, params json.RawMessage) (any, *Error) {
	s.backend.ResetPlanExit()
	return map[string]any{"ok": true}, nil
}

// sessionInfo is one row of list_sessions.
type sessionInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"messageCount"`
	FirstMessage string `json:"firstMessage,omitempty"`
	Agent        string `json:"agent,omitempty"`
	Model        string `json:"model,omitempty"`
	Status       string `json:"status,omitempty"`
	UpdatedAt    int64  `json:"updatedAt"`
	IsCurrent    bool   `json:"isCurrent"`
}

func (s *Server) listSessions(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		ProjectDir       string `json:"projectDir"`
		Limit            int    `json:"limit"`
		CurrentSessionID string `json:"currentSessionId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if s.opts.Store == nil {
		return []sessionInfo{}, nil
	}
	if p.ProjectDir == "" {
		p.ProjectDir = s.opts.ProjectDir
	}
	if p.CurrentSessionID == "" {
		p.CurrentSessionID = s.backend.SessionID()
	}
	summaries, err := s.opts.Store.List(ctx, session.ListOptions{ProjectDir: p.ProjectDir, Limit: p.Limit})
	if err != nil {
		return nil, serverError(err)
	}
	out := make([]sessionInfo, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, sessionInfo{
			ID:           sum.ID,
			Title:        sum.Title,
			MessageCount: sum.MessageCount,
			FirstMessage: sum.Title,
			Agent:        sum.Agent,
			Model:        sum.Model,
			Status:       string(sum.Status),
			UpdatedAt:    sum.UpdatedAt.UnixMilli(),
			IsCurrent:    sum.ID == p.CurrentSessionID,
		})
	}
	return out, nil
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

func (p sessionParams) validate() *Error {
	if p.SessionID == "" {
		return &Error{Code: InvalidParams, Message: "sessionId is required"}
	}
	return nil
}

func (s *Server) loadSession(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p sessionParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := s.backend.LoadSession(ctx, p.SessionID); err != nil {
		return nil, serverError(err)
	}
	return s.backend.State(), nil
}

func (s *Server) deleteSession(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p sessionParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if s.opts.Store == nil {
		return nil, &Error{Code: ServerError, Message: "sessions are disabled"}
	}
	current := p.SessionID == s.backend.SessionID()
	if current && s.backend.IsLoading() {
		return nil, serverError(turn.ErrBusy)
	}
	if err := s.opts.Store.Delete(ctx, p.SessionID); err != nil {
		return nil, serverError(err)
	}
	if s.opts.Todos != nil {
		if err := s.opts.Todos.Remove(p.SessionID); err != nil {
			slog.Debug("todos not removed", "session", p.SessionID, "error", err)
		}
	}
	if s.opts.History != nil {
		s.opts.History.Forget(p.SessionID)
	}
	if current {
		s.backend.Clear()
	}
	return map[string]any{"ok": true}, nil
}

func (s *Server) renameSession(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p sessionParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, &Error{Code: InvalidParams, Message: "title is required"}
	}
	if s.opts.Store == nil {
		return nil, &Error{Code: ServerError, Message: "sessions are disabled"}
	}
	sess, err := s.opts.Store.Get(ctx, p.SessionID)
	if err != nil {
		return nil, serverError(err)
	}
	sess.Title = session.TruncateTitle(title)
	if err := s.opts.Store.Update(ctx, sess); err != nil {
		return nil, serverError(err)
	}
	return map[string]any{"ok": true}, nil
}

func (s *Server) listModels(ctx context.Context, params json.RawMessage) (any, *Error) {
	entries := []agent.ModelEntry{}
	if s.opts.Models != nil {
		entries = append(entries, s.opts.Models()...)
	}
	return map[string]any{"entries": entries}, nil
}

func (s *Server) searchFiles(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	results := []reference.Entry{}
	if s.opts.Index != nil {
		found, err := s.opts.Index.Search(p.Query, p.Limit)
		if err != nil {
			return nil, serverError(err)
		}
		results = append(results, found...)
	}
	return map[string]any{"results": results}, nil
}

func (s *Server) sessionOrCurrent(id string) string {
	if id == "" {
		return s.backend.SessionID()
	}
	return id
}

func (s *Server) listTodos(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p sessionParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	list := []tools.TodoItem{}
	if s.opts.Todos != nil {
		items, err := s.opts.Todos.List(s.sessionOrCurrent(p.SessionID))
		if err != nil {
			return nil, serverError(err)
		}
		list = append(list, items...)
	}
	return map[string]any{
		"list":   list,
		"counts": tools.CountTodos(list),
	}, nil
}

func (s *Server) getPendingQuestion(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p sessionParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if s.opts.Questions == nil {
		return []tools.PendingQuestion{}, nil
	}
	return s.opts.Questions.Pending(s.sessionOrCurrent(p.SessionID)), nil
}

type questionParams struct {
	ID      string   `json:"id"`
	Answers []string `json:"answers"`
}

func (s *Server) resolveQuestion(params json.RawMessage, skip bool) (any, *Error) {
	var p questionParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, &Error{Code: InvalidParams, Message: "id is required"}
	}
	if !skip && len(p.Answers) == 0 {
		return nil, &Error{Code: InvalidParams, Message: "answers are required"}
	}
	if s.opts.Questions == nil {
		return nil, serverError(tools.ErrQuestionNotFound)
	}
	var err error
	if skip {
		err = s.opts.Questions.Skip(p.ID)
	} else {
		err = s.opts.Questions.Answer(p.ID, p.Answers)
	}
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]any{"ok": true}, nil
}

func (s *Server) answerQuestion(ctx context.Context, params json.RawMessage) (any, *Error) {
	return s.resolveQuestion(params, false)
}

func (s *Server) skipQuestion(ctx context.Context, params json.RawMessage) (any, *Error) {
	return s.resolveQuestion(params, true)
}

func (s *Server) executeTool(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, &Error{Code: InvalidParams, Message: "name is required"}
	}
	out, err := s.backend.ExecuteTool(ctx, p.Name, p.Args)
	if errors.Is(err, turn.ErrUnknownTool) {
		return nil, &Error{Code: InvalidParams, Message: err.Error()}
	}
	if err != nil {
		return nil, serverError(err)
	}
	return out, nil
}
