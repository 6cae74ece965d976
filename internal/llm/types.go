// Package llm defines the provider-neutral message model, the adapter
// contract every LLM backend implements, and the tool loop that drives
// multi-round tool calling against any of them.
package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part is a single content part.
type Part struct {
	Type       PartType
	Text       string
	Image      *Image
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// Image is an attached picture, carried base64-encoded.
type Image struct {
	MediaType string // image/png, image/jpeg
	Data      string // base64 payload
}

// ToolSpec describes one callable tool in the canonical neutral shape.
// Schema is a JSON Schema object; adapters convert it to their native
// form.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// Usage captures token counts when the backend reports them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates counts from another usage record.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Turn is the result of one blocking detection call: either the final
// assistant text, or a batch of tool calls to execute (possibly with
// accompanying text).
type Turn struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// SystemText builds a system message from plain text.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: text}}}
}

// UserText builds a user message from plain text.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: text}}}
}

// UserWithImages builds a user message carrying text plus attachments.
func UserWithImages(text string, images []Image) Message {
	parts := make([]Part, 0, len(images)+1)
	for i := range images {
		parts = append(parts, Part{Type: PartImage, Image: &images[i]})
	}
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	return Message{Role: RoleUser, Parts: parts}
}

// AssistantText builds an assistant message from plain text.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{{Type: PartText, Text: text}}}
}

// AssistantToolCalls builds the stripped assistant message appended to
// history during the tool loop: role, text, and tool-call records only.
func AssistantToolCalls(text string, calls []ToolCall) Message {
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range calls {
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &calls[i]})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// ToolResultMessage builds the tool message that feeds a result back to
// the model.
func ToolResultMessage(id, name, content string, isError bool) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
				IsError: isError,
			},
		}},
	}
}

// HasImages reports whether any message carries an image part.
func HasImages(messages []Message) bool {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if part.Type == PartImage {
				return true
			}
		}
	}
	return false
}

func collectTextParts(parts []Part) string {
	var texts []string
	for _, part := range parts {
		if part.Type == PartText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "")
}
