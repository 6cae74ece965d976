// Package event defines the wire protocol between the engine and its
// frontend clients: a closed set of outbound events and inbound frames,
// each a single JSON object tagged by a "type" field.
package event

import (
	"encoding/json"
	"fmt"
)

// Event is an outbound message broadcast to all connected clients.
// The set of implementations in this package is the complete catalog;
// nothing else goes over the wire.
type Event interface {
	EventType() string
}

// Marshal serializes an event as one JSON object with the "type" tag
// spliced in as the first key.
func Marshal(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.EventType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("marshal %s event: payload is not a JSON object", e.EventType())
	}
	tag := fmt.Sprintf(`{"type":%q`, e.EventType())
	if len(body) == 2 { // empty object
		return []byte(tag + "}"), nil
	}
	return append([]byte(tag+","), body[1:]...), nil
}

// Ready signals that the engine finished startup and is accepting queries.
type Ready struct{}

func (Ready) EventType() string { return "ready" }

// Query echoes an accepted user query to every client so all attached
// frontends render the turn.
type Query struct {
	Content string `json:"content"`
}

func (Query) EventType() string { return "query" }

// ResponseChunk is one streamed delta of assistant answer text.
type ResponseChunk struct {
	Content string `json:"content"`
}

func (ResponseChunk) EventType() string { return "response_chunk" }

// ThinkingChunk is one streamed delta of assistant reasoning text.
type ThinkingChunk struct {
	Content string `json:"content"`
}

func (ThinkingChunk) EventType() string { return "thinking_chunk" }

// ThinkingComplete marks the transition from reasoning to answer text.
type ThinkingComplete struct{}

func (ThinkingComplete) EventType() string { return "thinking_complete" }

// ResponseComplete carries the full assistant text once streaming ends.
type ResponseComplete struct {
	Content string `json:"content"`
}

func (ResponseComplete) EventType() string { return "response_complete" }

// TokenUsage reports accumulated token counts for the conversation.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (TokenUsage) EventType() string { return "token_usage" }

// Tool call status values.
const (
	ToolStatusCalling  = "calling"
	ToolStatusComplete = "complete"
)

// ToolCall reports progress of a single tool invocation. A "calling"
// event always precedes the matching "complete" event.
type ToolCall struct {
	Tool   string `json:"tool"`
	Server string `json:"server,omitempty"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

func (ToolCall) EventType() string { return "tool_call" }

// ToolCallRecord is one entry of a turn's tool-call summary.
type ToolCallRecord struct {
	Name      string          `json:"name"`
	Server    string          `json:"server,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// ToolCallsSummary lists every tool call the finished turn made, in order.
type ToolCallsSummary struct {
	ToolCalls []ToolCallRecord `json:"tool_calls"`
}

func (ToolCallsSummary) EventType() string { return "tool_calls_summary" }

// TerminalApprovalRequest asks the user to approve one shell command.
type TerminalApprovalRequest struct {
	RequestID string `json:"request_id"`
	Command   string `json:"command"`
	Cwd       string `json:"cwd,omitempty"`
}

func (TerminalApprovalRequest) EventType() string { return "terminal_approval_request" }

// TerminalSessionRequest asks the user to grant session mode, which
// auto-approves commands until the turn ends.
type TerminalSessionRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

func (TerminalSessionRequest) EventType() string { return "terminal_session_request" }

// TerminalSessionStarted reports that session mode is active.
type TerminalSessionStarted struct{}

func (TerminalSessionStarted) EventType() string { return "terminal_session_started" }

// TerminalSessionEnded reports that session mode expired or was ended.
type TerminalSessionEnded struct{}

func (TerminalSessionEnded) EventType() string { return "terminal_session_ended" }

// TerminalOutput is one chunk of subprocess output. Raw chunks preserve
// ANSI sequences for PTY rendering; non-raw chunks are whole lines.
type TerminalOutput struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	Stream    bool   `json:"stream"`
	Raw       bool   `json:"raw"`
}

func (TerminalOutput) EventType() string { return "terminal_output" }

// TerminalCommandComplete reports subprocess exit. Background is set
// when the command had already yielded a session id back to the model,
// so the exit arrives outside any tool call.
type TerminalCommandComplete struct {
	RequestID  string `json:"request_id"`
	SessionID  string `json:"session_id,omitempty"`
	Command    string `json:"command,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Background bool   `json:"background,omitempty"`
}

func (TerminalCommandComplete) EventType() string { return "terminal_command_complete" }

// TerminalRunningNotice tells the user a command is still running.
type TerminalRunningNotice struct {
	RequestID      string `json:"request_id"`
	Command        string `json:"command"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

func (TerminalRunningNotice) EventType() string { return "terminal_running_notice" }

// ConversationSummary is one row of a conversation listing.
type ConversationSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
}

// ConversationSaved reports that the current turn was persisted.
type ConversationSaved struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

func (ConversationSaved) EventType() string { return "conversation_saved" }

// ConversationResumed reports that a stored conversation became the
// active in-memory context.
type ConversationResumed struct {
	ConversationID string                `json:"conversation_id"`
	Title          string                `json:"title"`
	Messages       []ConversationMessage `json:"messages"`
}

func (ConversationResumed) EventType() string { return "conversation_resumed" }

// ConversationMessage is a stored message rendered back to the frontend.
type ConversationMessage struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Images    []string `json:"images,omitempty"`
	Model     string   `json:"model,omitempty"`
	Timestamp float64  `json:"timestamp"`
}

// ConversationList answers a get_conversations frame.
type ConversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
	Offset        int                   `json:"offset"`
}

func (ConversationList) EventType() string { return "conversation_list" }

// ConversationLoaded carries a full stored conversation for display.
type ConversationLoaded struct {
	ConversationID string                `json:"conversation_id"`
	Messages       []ConversationMessage `json:"messages"`
}

func (ConversationLoaded) EventType() string { return "conversation_loaded" }

// ConversationDeleted confirms a deletion.
type ConversationDeleted struct {
	ConversationID string `json:"conversation_id"`
}

func (ConversationDeleted) EventType() string { return "conversation_deleted" }

// SearchResults answers a search_conversations frame.
type SearchResults struct {
	Query   string                `json:"query"`
	Results []ConversationSummary `json:"results"`
}

func (SearchResults) EventType() string { return "search_results" }

// ScreenshotAttached reports a new attachment for the next query.
type ScreenshotAttached struct {
	ID   string `json:"id"`
	Data string `json:"data,omitempty"` // base64 PNG
}

func (ScreenshotAttached) EventType() string { return "screenshot_attached" }

// ScreenshotRemoved confirms removal of an attachment.
type ScreenshotRemoved struct {
	ID string `json:"id"`
}

func (ScreenshotRemoved) EventType() string { return "screenshot_removed" }

// CaptureModeChanged reports the active screenshot capture mode.
type CaptureModeChanged struct {
	Mode string `json:"mode"`
}

func (CaptureModeChanged) EventType() string { return "capture_mode" }

// TranscriptionResult carries the text recognized from a finished
// voice recording. The frontend places it in the input box; it is not
// submitted automatically.
type TranscriptionResult struct {
	Text string `json:"text"`
}

func (TranscriptionResult) EventType() string { return "transcription_result" }

// ContextCleared reports that in-memory history and attachments were
// discarded.
type ContextCleared struct{}

func (ContextCleared) EventType() string { return "context_cleared" }

// Error is a user-facing failure notice. Cancellation is not an error
// and never produces one.
type Error struct {
	Message string `json:"message"`
}

func (Error) EventType() string { return "error" }
