package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/config"
	"github.com/stratuscode/stratus/internal/credentials"
	"github.com/stratuscode/stratus/internal/mode"
	"github.com/stratuscode/stratus/internal/reference"
	"github.com/stratuscode/stratus/internal/session"
	"github.com/stratuscode/stratus/internal/tools"
	"github.com/stratuscode/stratus/internal/turn"
	"github.com/stratuscode/stratus/internal/usage"
)

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// setupLogging installs a text slog handler. stdout carries the protocol in
// backend mode, so logs always go to w (stderr).
func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func resolveProjectDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid project dir %q: %w", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project dir %s is not a directory", abs)
	}
	return abs, nil
}

// openStore opens session storage. Write failures are logged once per
// operation kind instead of on every call.
func openStore(cfg *config.Config) (session.Store, error) {
	store, err := session.NewStore(session.Config{
		Enabled:    cfg.Sessions.Enabled,
		Path:       cfg.Sessions.Path,
		MaxAgeDays: cfg.Sessions.MaxAgeDays,
		MaxCount:   cfg.Sessions.MaxCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return session.NewLoggingStore(store, slog.Warn), nil
}

// app is everything a command needs to run turns.
type app struct {
	cfg        *config.Config
	store      session.Store
	ctrl       *turn.Controller
	index      *reference.Index
	todos      *tools.TodoStore
	questions  *tools.QuestionBroker
	history    *tools.FileHistory
	projectDir string
	model      string
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Debug("session store close failed", "error", err)
	}
}

// newApp wires config, storage, engine and controller. listener may be nil.
// Only interactive clients can answer the agent's questions, so the question
// tool is left out otherwise.
func newApp(flags *SessionFlags, listener turn.Listener, interactive bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel, os.Stderr)
	flags.Apply(cfg)

	dir, err := resolveProjectDir(projectDir)
	if err != nil {
		return nil, err
	}
	providerKey, _, model, err := cfg.ActiveProvider()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	dataDir, err := session.GetDataDir()
	if err != nil {
		dataDir = filepath.Join(dir, ".stratus")
	}

	index := reference.NewIndex(dir)
	todos := tools.NewTodoStore(filepath.Join(dataDir, "todos"))
	history := tools.NewFileHistory()
	var questions *tools.QuestionBroker
	if interactive {
		questions = tools.NewQuestionBroker()
	}

	contextLimit := func(model string) int {
		return usage.ContextLimit(model, cfg.ContextLimits)
	}
	ctrl := turn.New(turn.Options{
		Engine:           agent.NewRouter(cfg, contextLimit),
		Store:            store,
		Listener:         listener,
		Credentials:      credentials.NewCoalescer(nil, cfg),
		CredentialSource: cfg,
		Modes:            mode.NewManager(dataDir),
		Expander:         reference.NewExpander(dir, cfg.Reference.MaxBytes, cfg.Reference.MaxFiles),
		Todos:            todos,
		Questions:        questions,
		History:          history,
		Index:            index,
		ResolveModel: func(provider string) string {
			if p, ok := cfg.Providers[provider]; ok {
				return p.Model
			}
			return ""
		},
		ProjectDir:      dir,
		Agent:           cfg.Agent,
		Provider:        providerKey,
		Model:           model,
		ReasoningEffort: cfg.ReasoningEffort,
		Instructions:    cfg.Instructions,
		MaxTurns:        cfg.MaxTurns,
		FlushInterval:   cfg.FlushInterval,
		ContextLimits:   cfg.ContextLimits,
	})

	slog.Debug("stratus ready", "project", dir, "provider", providerKey, "model", model)
	return &app{
		cfg:        cfg,
		store:      store,
		ctrl:       ctrl,
		index:      index,
		todos:      todos,
		questions:  questions,
		history:    history,
		projectDir: dir,
		model:      model,
	}, nil
}
