// Package store persists conversations, messages, terminal events, and
// settings in a local SQLite database.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is one stored chat thread. Timestamps are unix seconds.
type Conversation struct {
	ID                string
	Title             string
	CreatedAt         float64
	UpdatedAt         float64
	TotalInputTokens  int
	TotalOutputTokens int
}

// Message is one stored turn entry.
type Message struct {
	ID             int64
	ConversationID string
	Sequence       int
	Role           string
	Content        string
	Images         []string // base64 payloads attached to the message
	Model          string
	CreatedAt      float64
}

// Summary is a conversation listing row.
type Summary struct {
	ID    string
	Title string
	Date  string
}

// Well-known settings keys.
const (
	// SettingSystemPrompt overrides the built-in system prompt template.
	SettingSystemPrompt = "system_prompt_template"
	// SettingPushSubscription holds the frontend's web-push subscription
	// JSON, written on push_subscribe and read by the webpush notifier.
	SettingPushSubscription = "push_subscription"
)

// TerminalEvent records one executed (or denied) command for a
// conversation.
type TerminalEvent struct {
	ID             string
	ConversationID string
	MessageIndex   int
	Command        string
	ExitCode       int
	OutputPreview  string
	FullOutput     string
	Cwd            string
	DurationMs     int64
	TimedOut       bool
	Denied         bool
	PTY            bool
	Background     bool
	CreatedAt      float64
}

// NewID returns a fresh identifier for conversations and terminal
// events.
func NewID() string {
	return uuid.NewString()
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func formatDate(unixSecs float64) string {
	return time.Unix(int64(unixSecs), 0).Format("2006-01-02 15:04")
}
