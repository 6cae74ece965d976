package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite conversation database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at REAL NOT NULL,
    updated_at REAL NOT NULL,
    total_input_tokens INTEGER DEFAULT 0,
    total_output_tokens INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    sequence INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL,
    images TEXT,
    model TEXT,
    created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS terminal_events (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    message_index INTEGER DEFAULT 0,
    command TEXT NOT NULL,
    exit_code INTEGER DEFAULT 0,
    output_preview TEXT,
    full_output TEXT,
    cwd TEXT,
    duration_ms INTEGER DEFAULT 0,
    timed_out INTEGER DEFAULT 0,
    denied INTEGER DEFAULT 0,
    pty INTEGER DEFAULT 0,
    background INTEGER DEFAULT 0,
    created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_sequence ON messages(conversation_id, sequence);
CREATE INDEX IF NOT EXISTS idx_terminal_events_conversation ON terminal_events(conversation_id);

-- Full-text search over message content
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// schemaVersion is the current schema version. Fresh databases get the
// full schema and start here; add a migration and bump this when the
// schema changes.
const schemaVersion = 1

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

var migrations []migration

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	var current int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&current)
	if err == nil && current >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	if err != nil {
		// No version row yet: a fresh database already matches the
		// current schema.
		current = schemaVersion
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", current); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update version to %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, id, title string) error {
	now := nowUnix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		id, title, now, now)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns nil without error when the id is unknown.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, total_input_tokens, total_output_tokens
		FROM conversations WHERE id = ?`, id)

	var c Conversation
	err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.TotalInputTokens, &c.TotalOutputTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

// UpdateTitle renames a conversation.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		title, nowUnix(), id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

// DeleteConversation removes a conversation, its messages (via
// cascade), and its terminal events.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM terminal_events WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("delete terminal events: %w", err)
	}
	return tx.Commit()
}

// ListConversations returns summaries ordered by most recent activity.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_at FROM conversations
		ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// SearchConversations matches message content (full-text) and titles
// (substring), newest first.
func (s *Store) SearchConversations(ctx context.Context, query string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	// Quote the user text so FTS operators in it cannot break the MATCH.
	ftsQuery := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.title, c.updated_at
		FROM conversations c
		WHERE c.title LIKE '%' || ? || '%'
		   OR c.id IN (
			SELECT m.conversation_id
			FROM messages_fts f
			JOIN messages m ON m.id = f.rowid
			WHERE messages_fts MATCH ?
		   )
		ORDER BY c.updated_at DESC
		LIMIT ?`, query, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	var results []Summary
	for rows.Next() {
		var sum Summary
		var updatedAt float64
		if err := rows.Scan(&sum.ID, &sum.Title, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Date = formatDate(updatedAt)
		results = append(results, sum)
	}
	return results, rows.Err()
}

// AddMessage appends a message, allocating the next sequence number and
// touching the conversation's updated_at in one transaction.
func (s *Store) AddMessage(ctx context.Context, conversationID string, msg *Message) error {
	if msg.CreatedAt == 0 {
		msg.CreatedAt = nowUnix()
	}
	var imagesJSON sql.NullString
	if len(msg.Images) > 0 {
		data, err := json.Marshal(msg.Images)
		if err != nil {
			return fmt.Errorf("serialize images: %w", err)
		}
		imagesJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(sequence) FROM messages WHERE conversation_id = ?",
		conversationID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	msg.Sequence = 0
	if maxSeq.Valid {
		msg.Sequence = int(maxSeq.Int64) + 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sequence, role, content, images, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.Sequence, msg.Role, msg.Content, imagesJSON,
		nullString(msg.Model), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	msg.ConversationID = conversationID

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		nowUnix(), conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

// GetMessages returns a conversation's messages in insertion order.
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sequence, role, content, images, model, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY sequence ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var images, model sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sequence, &msg.Role,
			&msg.Content, &images, &model, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &msg.Images); err != nil {
				return nil, fmt.Errorf("deserialize images: %w", err)
			}
		}
		if model.Valid {
			msg.Model = model.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AddTokenUsage accumulates token counters on a conversation.
func (s *Store) AddTokenUsage(ctx context.Context, id string, inputTokens, outputTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			total_input_tokens = total_input_tokens + ?,
			total_output_tokens = total_output_tokens + ?
		WHERE id = ?`,
		inputTokens, outputTokens, id)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}

// GetTokenUsage returns the accumulated token counters.
func (s *Store) GetTokenUsage(ctx context.Context, id string) (input, output int, err error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT total_input_tokens, total_output_tokens FROM conversations WHERE id = ?", id)
	if err := row.Scan(&input, &output); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("get token usage: %w", err)
	}
	return input, output, nil
}

const (
	// Stored output is capped; the preview keeps the head and tail.
	previewLimit    = 1000
	previewEdge     = 500
	fullOutputLimit = 50000
)

// SaveTerminalEvent persists one command execution record, deriving
// the preview and capping the stored output.
func (s *Store) SaveTerminalEvent(ctx context.Context, ev *TerminalEvent) error {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = nowUnix()
	}
	ev.OutputPreview = previewOutput(ev.FullOutput)
	if len(ev.FullOutput) > fullOutputLimit {
		ev.FullOutput = ev.FullOutput[:fullOutputLimit]
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_events
			(id, conversation_id, message_index, command, exit_code, output_preview,
			 full_output, cwd, duration_ms, timed_out, denied, pty, background, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ConversationID, ev.MessageIndex, ev.Command, ev.ExitCode,
		ev.OutputPreview, ev.FullOutput, ev.Cwd, ev.DurationMs,
		boolInt(ev.TimedOut), boolInt(ev.Denied), boolInt(ev.PTY), boolInt(ev.Background),
		ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert terminal event: %w", err)
	}
	return nil
}

// TerminalEvents returns a conversation's command records, oldest
// first.
func (s *Store) TerminalEvents(ctx context.Context, conversationID string) ([]TerminalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, message_index, command, exit_code, output_preview,
		       full_output, cwd, duration_ms, timed_out, denied, pty, background, created_at
		FROM terminal_events WHERE conversation_id = ?
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query terminal events: %w", err)
	}
	defer rows.Close()

	var events []TerminalEvent
	for rows.Next() {
		var ev TerminalEvent
		var timedOut, denied, pty, background int
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.MessageIndex, &ev.Command,
			&ev.ExitCode, &ev.OutputPreview, &ev.FullOutput, &ev.Cwd, &ev.DurationMs,
			&timedOut, &denied, &pty, &background, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan terminal event: %w", err)
		}
		ev.TimedOut = timedOut != 0
		ev.Denied = denied != 0
		ev.PTY = pty != 0
		ev.Background = background != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}

func previewOutput(output string) string {
	if len(output) <= previewLimit {
		return output
	}
	return output[:previewEdge] + "\n...\n" + output[len(output)-previewEdge:]
}

// GetSetting reads one settings value; the bool reports presence.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes one settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes one settings value.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

const enabledModelsKey = "enabled_models"

// GetEnabledModels returns the model allowlist the frontend exposes,
// or nil when unset.
func (s *Store) GetEnabledModels(ctx context.Context) ([]string, error) {
	value, ok, err := s.GetSetting(ctx, enabledModelsKey)
	if err != nil || !ok {
		return nil, err
	}
	var models []string
	if err := json.Unmarshal([]byte(value), &models); err != nil {
		return nil, fmt.Errorf("parse enabled models: %w", err)
	}
	return models, nil
}

// SetEnabledModels stores the model allowlist.
func (s *Store) SetEnabledModels(ctx context.Context, models []string) error {
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("serialize enabled models: %w", err)
	}
	return s.SetSetting(ctx, enabledModelsKey, string(data))
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
