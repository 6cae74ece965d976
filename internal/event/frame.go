package event

import "encoding/json"

// Frame is an inbound client message. Unknown frame types are dropped
// by ParseFrame without error; the catalog below is closed.
type Frame interface {
	FrameType() string
}

// SubmitQuery starts a new assistant turn.
type SubmitQuery struct {
	Content     string `json:"content"`
	CaptureMode string `json:"capture_mode,omitempty"`
	Model       string `json:"model,omitempty"`
}

func (SubmitQuery) FrameType() string { return "submit_query" }

// ClearContext discards in-memory history and attachments.
type ClearContext struct{}

func (ClearContext) FrameType() string { return "clear_context" }

// RemoveScreenshot detaches one pending screenshot.
type RemoveScreenshot struct {
	ID string `json:"id"`
}

func (RemoveScreenshot) FrameType() string { return "remove_screenshot" }

// SetCaptureMode selects the screenshot capture mode.
type SetCaptureMode struct {
	Mode string `json:"mode"`
}

func (SetCaptureMode) FrameType() string { return "set_capture_mode" }

// StopStreaming cancels the in-flight turn.
type StopStreaming struct{}

func (StopStreaming) FrameType() string { return "stop_streaming" }

// GetConversations requests a page of stored conversations.
type GetConversations struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func (GetConversations) FrameType() string { return "get_conversations" }

// LoadConversation requests a stored conversation for display.
type LoadConversation struct {
	ConversationID string `json:"conversation_id"`
}

func (LoadConversation) FrameType() string { return "load_conversation" }

// DeleteConversation removes a stored conversation.
type DeleteConversation struct {
	ConversationID string `json:"conversation_id"`
}

func (DeleteConversation) FrameType() string { return "delete_conversation" }

// SearchConversations searches titles and message content.
type SearchConversations struct {
	Query string `json:"query"`
}

func (SearchConversations) FrameType() string { return "search_conversations" }

// ResumeConversation loads a stored conversation into the active context.
type ResumeConversation struct {
	ConversationID string `json:"conversation_id"`
}

func (ResumeConversation) FrameType() string { return "resume_conversation" }

// StartRecording begins audio capture via the configured recorder.
type StartRecording struct{}

func (StartRecording) FrameType() string { return "start_recording" }

// StopRecording ends audio capture and submits the transcription.
type StopRecording struct{}

func (StopRecording) FrameType() string { return "stop_recording" }

// TerminalApprovalResponse answers a terminal_approval_request.
type TerminalApprovalResponse struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Remember  bool   `json:"remember,omitempty"`
}

func (TerminalApprovalResponse) FrameType() string { return "terminal_approval_response" }

// TerminalSessionResponse answers a terminal_session_request.
type TerminalSessionResponse struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}

func (TerminalSessionResponse) FrameType() string { return "terminal_session_response" }

// TerminalResize propagates the frontend terminal size to PTY sessions.
type TerminalResize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (TerminalResize) FrameType() string { return "terminal_resize" }

// TerminalKill terminates one PTY session, or all when SessionID is empty.
type TerminalKill struct {
	SessionID string `json:"session_id,omitempty"`
}

func (TerminalKill) FrameType() string { return "terminal_kill" }

// PushSubscribe registers a Web Push subscription for attention
// notifications.
type PushSubscribe struct {
	Subscription json.RawMessage `json:"subscription"`
}

func (PushSubscribe) FrameType() string { return "push_subscribe" }

// ParseFrame decodes one inbound message. The second return is false
// when the payload is not valid JSON, has no type, or names a type
// outside the catalog; callers ignore such frames silently.
func ParseFrame(data []byte) (Frame, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		return nil, false
	}

	decode := func(f Frame) (Frame, bool) {
		if err := json.Unmarshal(data, f); err != nil {
			return nil, false
		}
		return f, true
	}

	switch head.Type {
	case "submit_query":
		return decode(&SubmitQuery{})
	case "clear_context":
		return decode(&ClearContext{})
	case "remove_screenshot":
		return decode(&RemoveScreenshot{})
	case "set_capture_mode":
		return decode(&SetCaptureMode{})
	case "stop_streaming":
		return decode(&StopStreaming{})
	case "get_conversations":
		return decode(&GetConversations{})
	case "load_conversation":
		return decode(&LoadConversation{})
	case "delete_conversation":
		return decode(&DeleteConversation{})
	case "search_conversations":
		return decode(&SearchConversations{})
	case "resume_conversation":
		return decode(&ResumeConversation{})
	case "start_recording":
		return decode(&StartRecording{})
	case "stop_recording":
		return decode(&StopRecording{})
	case "terminal_approval_response":
		return decode(&TerminalApprovalResponse{})
	case "terminal_session_response":
		return decode(&TerminalSessionResponse{})
	case "terminal_resize":
		return decode(&TerminalResize{})
	case "terminal_kill":
		return decode(&TerminalKill{})
	case "push_subscribe":
		return decode(&PushSubscribe{})
	default:
		return nil, false
	}
}
