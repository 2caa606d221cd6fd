package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stratuscode/stratus/internal/timeline"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Schema for the sessions database.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT,
    project_dir TEXT,
    agent TEXT,
    provider TEXT,
    model TEXT,
    reasoning_effort TEXT,
    status TEXT DEFAULT 'active',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL DEFAULT '',
    parts TEXT,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    context_tokens INTEGER DEFAULT 0,
    model TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS timeline_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    streaming BOOLEAN DEFAULT FALSE,
    tool_call_id TEXT,
    tool_name TEXT,
    status TEXT,
    parent_message_id TEXT,
    tokens TEXT,
    attachments TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_calls (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    message_id TEXT,
    name TEXT NOT NULL,
    arguments TEXT,
    status TEXT NOT NULL DEFAULT 'running',
    result TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_sequence ON messages(session_id, sequence);
CREATE INDEX IF NOT EXISTS idx_timeline_session ON timeline_events(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id);

-- Metadata table for current session tracking
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);

-- Full-text search on message content
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='rowid'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`

// NewSQLiteStore creates a new SQLite-based session store.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = GetDBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema and run migrations
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}

	// Run cleanup if configured
	if err := store.cleanup(); err != nil {
		// Log but don't fail
		slog.Warn("session cleanup failed", "error", err)
	}

	return store, nil
}

// schemaVersion is the current schema version.
// - Fresh databases get the full schema from `schema` const and start at this version
// - Existing databases run migrations to reach this version
// Increment when adding new migrations.
const schemaVersion = 2

// migration represents a schema migration.
type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations upgrade databases created before a schema change.
// The base `schema` const always contains the FULL current schema.
var migrations = []migration{
	{
		version:     1,
		description: "add reasoning_effort to sessions",
		up: func(db *sql.DB) error {
			return addColumns(db, "ALTER TABLE sessions ADD COLUMN reasoning_effort TEXT")
		},
	},
	{
		version:     2,
		description: "add context_tokens and model to messages",
		up: func(db *sql.DB) error {
			return addColumns(db,
				"ALTER TABLE messages ADD COLUMN context_tokens INTEGER DEFAULT 0",
				"ALTER TABLE messages ADD COLUMN model TEXT",
			)
		},
	},
}

func addColumns(db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			if !isDuplicateColumnError(err) {
				return err
			}
		}
	}
	return nil
}

// initSchema initializes the database schema and runs any pending migrations.
// Optimized for the common case: schema already current = single SELECT query.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

// initSchemaFull handles schema creation and migrations.
func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	// Detect a pre-migration database before the base schema adds tables.
	var tableCount int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='sessions'
	`).Scan(&tableCount); err != nil {
		return fmt.Errorf("check sessions table: %w", err)
	}

	// Create base schema (uses IF NOT EXISTS, safe to run multiple times)
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// versionErr is non-nil if schema_version table doesn't exist or has no rows
	if versionErr != nil && (errors.Is(versionErr, sql.ErrNoRows) || strings.Contains(versionErr.Error(), "no such table")) {
		if tableCount > 0 {
			// Pre-migration DB - start at version 0, will run all migrations
			currentVersion = 0
		} else {
			// Fresh DB - schema already has all columns, start at latest
			currentVersion = schemaVersion
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if versionErr != nil {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	for _, m := range migrations {
		if m.version > currentVersion {
			if err := m.up(db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
			if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
				return fmt.Errorf("update version to %d: %w", m.version, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if an error is due to a column already existing.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// cleanup removes old sessions based on configuration.
func (s *SQLiteStore) cleanup() error {
	ctx := context.Background()

	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)
		if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff); err != nil {
			return fmt.Errorf("delete old sessions: %w", err)
		}
	}

	if s.cfg.MaxCount > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM sessions WHERE id IN (
				SELECT id FROM sessions
				ORDER BY updated_at DESC
				LIMIT -1 OFFSET ?
			)`, s.cfg.MaxCount)
		if err != nil {
			return fmt.Errorf("enforce max count: %w", err)
		}
	}

	return nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, project_dir, agent, provider, model, reasoning_effort, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullString(sess.Title), nullString(sess.ProjectDir), nullString(sess.Agent),
		nullString(sess.Provider), nullString(sess.Model), nullString(sess.ReasoningEffort),
		string(sess.Status), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, project_dir, agent, provider, model, reasoning_effort, status, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var title, projectDir, agent, provider, model, effort, status sql.NullString
	err := row.Scan(&sess.ID, &title, &projectDir, &agent, &provider, &model, &effort, &status,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Title = title.String
	sess.ProjectDir = projectDir.String
	sess.Agent = agent.String
	sess.Provider = provider.String
	sess.Model = model.String
	sess.ReasoningEffort = effort.String
	sess.Status = Status(status.String)
	return &sess, nil
}

// Update modifies an existing session.
func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, project_dir = ?, agent = ?, provider = ?, model = ?,
		       reasoning_effort = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		nullString(sess.Title), nullString(sess.ProjectDir), nullString(sess.Agent),
		nullString(sess.Provider), nullString(sess.Model), nullString(sess.ReasoningEffort),
		string(sess.Status), sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sess.ID)
	}
	return nil
}

// UpdateStatus updates just the session status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

// Delete removes a session with its messages, events and tool calls.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	// Foreign key cascade handles child rows
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns sessions matching the options, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `
		SELECT s.id, s.title, s.project_dir, s.agent, s.model, s.status, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id) AS message_count,
		       (SELECT COALESCE(SUM(input_tokens), 0) FROM messages WHERE session_id = s.id) AS input_tokens,
		       (SELECT COALESCE(SUM(output_tokens), 0) FROM messages WHERE session_id = s.id) AS output_tokens
		FROM sessions s
		WHERE 1=1`
	args := []any{}

	if opts.ProjectDir != "" {
		query += " AND s.project_dir = ?"
		args = append(args, opts.ProjectDir)
	}

	query += " ORDER BY s.updated_at DESC"

	limit := opts.Limit
	if limit == 0 {
		limit = 50 // Default
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var sum Summary
		var title, projectDir, agent, model, status sql.NullString
		err := rows.Scan(&sum.ID, &title, &projectDir, &agent, &model, &status,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount, &sum.InputTokens, &sum.OutputTokens)
		if err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.Title = title.String
		sum.ProjectDir = projectDir.String
		sum.Agent = agent.String
		sum.Model = model.String
		sum.Status = Status(status.String)
		results = append(results, sum)
	}
	return results, rows.Err()
}

// Search finds messages containing the query text using FTS5.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit == 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, m.id, COALESCE(s.title, ''), snippet(messages_fts, 0, '**', '**', '...', 32), m.created_at
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		JOIN sessions s ON s.id = m.session_id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.SessionID, &r.MessageID, &r.Title, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AddMessage adds a message to a session, allocating its sequence number
// inside the insert transaction.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	msg.SessionID = sessionID
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	partsJSON, err := msg.PartsJSON()
	if err != nil {
		return fmt.Errorf("serialize parts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM messages WHERE session_id = ?`,
		sessionID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	msg.Sequence = 0
	if maxSeq.Valid {
		msg.Sequence = int(maxSeq.Int64) + 1
	}

	in, out, ctxTokens, model := tokenColumns(msg.Tokens)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, parts, input_tokens, output_tokens, context_tokens, model, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), msg.Content, nullString(partsJSON),
		in, out, ctxTokens, nullString(model), msg.CreatedAt, msg.Sequence)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now(), sessionID); err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateMessage rewrites a message's content, parts and token usage.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *Message) error {
	partsJSON, err := msg.PartsJSON()
	if err != nil {
		return fmt.Errorf("serialize parts: %w", err)
	}
	in, out, ctxTokens, model := tokenColumns(msg.Tokens)
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, parts = ?, input_tokens = ?, output_tokens = ?, context_tokens = ?, model = ?
		WHERE id = ?`,
		msg.Content, nullString(partsJSON), in, out, ctxTokens, nullString(model), msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("message not found: %s", msg.ID)
	}
	return nil
}

// GetMessages retrieves all messages of a session in sequence order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, parts, input_tokens, output_tokens, context_tokens, model, created_at, sequence
		FROM messages
		WHERE session_id = ?
		ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var parts, model sql.NullString
		var in, out, ctxTokens int
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &parts,
			&in, &out, &ctxTokens, &model, &msg.CreatedAt, &msg.Sequence)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := msg.SetPartsFromJSON(parts.String); err != nil {
			return nil, fmt.Errorf("deserialize parts: %w", err)
		}
		if in != 0 || out != 0 || model.Valid {
			msg.Tokens = &timeline.TokenUsage{Input: in, Output: out, Context: ctxTokens, Model: model.String}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveEvent inserts a timeline event or updates the mutable fields of an
// existing one. The row keeps the position of its first insert.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev timeline.Event) error {
	tokens, err := jsonColumn(ev.Tokens, ev.Tokens == nil)
	if err != nil {
		return fmt.Errorf("serialize tokens: %w", err)
	}
	attachments, err := jsonColumn(ev.Attachments, len(ev.Attachments) == 0)
	if err != nil {
		return fmt.Errorf("serialize attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (id, session_id, kind, content, streaming, tool_call_id, tool_name, status,
		                             parent_message_id, tokens, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    content = excluded.content,
		    streaming = excluded.streaming,
		    status = excluded.status,
		    tokens = excluded.tokens,
		    attachments = excluded.attachments`,
		ev.ID, ev.SessionID, string(ev.Kind), ev.Content, ev.Streaming,
		nullString(ev.ToolCallID), nullString(ev.ToolName), nullString(ev.Status),
		nullString(ev.ParentMessageID), tokens, attachments, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("save timeline event: %w", err)
	}
	return nil
}

// GetEvents returns a session's timeline in insertion order.
func (s *SQLiteStore) GetEvents(ctx context.Context, sessionID string) ([]timeline.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, content, streaming, tool_call_id, tool_name, status,
		       parent_message_id, tokens, attachments, created_at
		FROM timeline_events
		WHERE session_id = ?
		ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query timeline events: %w", err)
	}
	defer rows.Close()

	var events []timeline.Event
	for rows.Next() {
		var ev timeline.Event
		var kind string
		var toolCallID, toolName, status, parentID, tokens, attachments sql.NullString
		err := rows.Scan(&ev.ID, &ev.SessionID, &kind, &ev.Content, &ev.Streaming,
			&toolCallID, &toolName, &status, &parentID, &tokens, &attachments, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Kind = timeline.Kind(kind)
		ev.ToolCallID = toolCallID.String
		ev.ToolName = toolName.String
		ev.Status = status.String
		ev.ParentMessageID = parentID.String
		if tokens.Valid {
			ev.Tokens = &timeline.TokenUsage{}
			if err := json.Unmarshal([]byte(tokens.String), ev.Tokens); err != nil {
				return nil, fmt.Errorf("deserialize tokens: %w", err)
			}
		}
		if attachments.Valid {
			if err := json.Unmarshal([]byte(attachments.String), &ev.Attachments); err != nil {
				return nil, fmt.Errorf("deserialize attachments: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AddToolCall inserts a tool call row. A repeated id is ignored.
func (s *SQLiteStore) AddToolCall(ctx context.Context, call *ToolCall) error {
	now := time.Now()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = now
	if call.Status == "" {
		call.Status = "running"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (id, session_id, message_id, name, arguments, status, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		call.ID, call.SessionID, nullString(call.MessageID), call.Name, call.Arguments,
		call.Status, nullString(call.Result), call.CreatedAt, call.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// UpdateToolCallResult records a tool call's status and result.
func (s *SQLiteStore) UpdateToolCallResult(ctx context.Context, id, status, result string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_calls SET status = ?, result = ?, updated_at = ?
		WHERE id = ?`,
		status, result, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update tool call: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("tool call not found: %s", id)
	}
	return nil
}

// GetToolCalls returns a session's tool calls in creation order.
func (s *SQLiteStore) GetToolCalls(ctx context.Context, sessionID string) ([]ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message_id, name, arguments, status, result, created_at, updated_at
		FROM tool_calls
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []ToolCall
	for rows.Next() {
		var c ToolCall
		var messageID, args, result sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &messageID, &c.Name, &args, &c.Status, &result,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		c.MessageID = messageID.String
		c.Arguments = args.String
		c.Result = result.String
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// TokenTotals sums token usage over a session's messages.
func (s *SQLiteStore) TokenTotals(ctx context.Context, sessionID string) (int, int, error) {
	var in, out int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM messages WHERE session_id = ?`, sessionID).Scan(&in, &out)
	if err != nil {
		return 0, 0, fmt.Errorf("sum tokens: %w", err)
	}
	return in, out, nil
}

// SetCurrent marks a session as the current one.
func (s *SQLiteStore) SetCurrent(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('current_session', ?)`,
		sessionID)
	return err
}

// GetCurrent retrieves the current session.
func (s *SQLiteStore) GetCurrent(ctx context.Context) (*Session, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = 'current_session'").Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

// ClearCurrent removes the current session marker.
func (s *SQLiteStore) ClearCurrent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM metadata WHERE key = 'current_session'")
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func jsonColumn(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func tokenColumns(t *timeline.TokenUsage) (in, out, ctx int, model string) {
	if t == nil {
		return 0, 0, 0, ""
	}
	return t.Input, t.Output, t.Context, t.Model
}
