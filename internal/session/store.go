package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stratuscode/stratus/internal/timeline"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error

	// Listing and search
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Messages. AddMessage allocates the next sequence number.
	AddMessage(ctx context.Context, sessionID string, msg *Message) error
	UpdateMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)

	// Timeline events, upserted by id; first insert fixes the position.
	SaveEvent(ctx context.Context, ev timeline.Event) error
	GetEvents(ctx context.Context, sessionID string) ([]timeline.Event, error)

	// Tool call audit rows
	AddToolCall(ctx context.Context, call *ToolCall) error
	UpdateToolCallResult(ctx context.Context, id, status, result string) error
	GetToolCalls(ctx context.Context, sessionID string) ([]ToolCall, error)

	// TokenTotals sums assistant message usage for a session.
	TokenTotals(ctx context.Context, sessionID string) (input, output int, err error)

	// Current session tracking (for auto-resume)
	SetCurrent(ctx context.Context, sessionID string) error
	GetCurrent(ctx context.Context) (*Session, error)
	ClearCurrent(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`      // Master switch
	Path       string `mapstructure:"path"`         // Database file; empty uses the data dir
	MaxAgeDays int    `mapstructure:"max_age_days"` // Auto-delete after N days (0=never)
	MaxCount   int    `mapstructure:"max_count"`    // Keep at most N sessions (0=unlimited)
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// GetDataDir returns the XDG data directory for stratus.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "stratus"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "stratus"), nil
}

// GetDBPath returns the path to the sessions database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If sessions are disabled, returns an in-memory store that lives for the
// process only.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(cfg)
}
