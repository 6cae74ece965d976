package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const compatHTTPTimeout = 10 * time.Minute

var compatHTTPClient = &http.Client{Timeout: compatHTTPTimeout}

// OpenAICompatProvider speaks the OpenAI chat-completions wire format.
// It serves OpenAI itself plus Ollama and LM Studio, which expose the
// same endpoint shape.
type OpenAICompatProvider struct {
	name    string
	baseURL string
	apiKey  string

	// thinkControl marks backends that honor the think request knob
	// and emit reasoning deltas (Ollama).
	thinkControl bool
}

// NewOpenAICompatProvider builds an adapter for a compatible server.
// apiKey may be empty for local servers that ignore auth.
func NewOpenAICompatProvider(name, baseURL, apiKey string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// NewOllamaProvider builds an adapter for a local Ollama server, with
// per-request thinking control enabled.
func NewOllamaProvider(name, baseURL string) *OpenAICompatProvider {
	p := NewOpenAICompatProvider(name, baseURL, "")
	p.thinkControl = true
	return p
}

func (p *OpenAICompatProvider) Name() string { return p.name }

// Wire structures for the chat-completions endpoint. Tool arguments
// arrive as JSON-encoded strings, not objects.
type oaiChatRequest struct {
	Model         string            `json:"model"`
	Messages      []oaiMessage      `json:"messages"`
	Tools         []oaiTool         `json:"tools,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
	Think         *bool             `json:"think,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// oaiMessage is the request-side message. Content is either a plain
// string or a []oaiContentPart when images are attached.
type oaiMessage struct {
	Role       string        `json:"role"`
	Content    any           `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaiToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type oaiChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []oaiChoice  `json:"choices"`
	Usage   *oaiUsage    `json:"usage,omitempty"`
	Error   *oaiAPIError `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int       `json:"index"`
	Message      *oaiDelta `json:"message,omitempty"`
	Delta        *oaiDelta `json:"delta,omitempty"`
	FinishReason string    `json:"finish_reason"`
}

// oaiDelta is the response-side message: full on non-streaming calls,
// incremental on SSE chunks. Reasoning text arrives under
// reasoning_content (DeepSeek style) or reasoning (Ollama).
type oaiDelta struct {
	Role             string        `json:"role,omitempty"`
	Content          string        `json:"content,omitempty"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
	Reasoning        string        `json:"reasoning,omitempty"`
	ToolCalls        []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *OpenAICompatProvider) makeChatRequest(ctx context.Context, req oaiChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return compatHTTPClient.Do(httpReq)
}

func (p *OpenAICompatProvider) Detect(ctx context.Context, req Request) (*Turn, error) {
	chatReq := p.buildChatRequest(req, false)
	chatReq.Tools = buildCompatTools(req.Tools)

	resp, err := p.makeChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s API request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s API error (status %d): %s", p.name, resp.StatusCode, string(body))
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%s API response parse failed: %w", p.name, err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", p.name, chatResp.Error.Message)
	}

	turn := &Turn{}
	if chatResp.Usage != nil {
		turn.Usage = Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		}
	}
	if len(chatResp.Choices) > 0 && chatResp.Choices[0].Message != nil {
		msg := chatResp.Choices[0].Message
		turn.Text = msg.Content
		for i, call := range msg.ToolCalls {
			id := call.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			args := call.Function.Arguments
			if args == "" {
				args = "{}"
			}
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:        id,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(args),
			})
		}
	}
	return turn, nil
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	chatReq := p.buildChatRequest(req, true)
	return newChunkStream(ctx, func(ctx context.Context, emit func(Chunk) bool) error {
		resp, err := p.makeChatRequest(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("%s API request failed: %w", p.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("%s API error (status %d): %s", p.name, resp.StatusCode, string(body))
		}

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		var lastUsage *Usage
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chatResp oaiChatResponse
			if err := json.Unmarshal([]byte(data), &chatResp); err != nil {
				continue
			}
			if chatResp.Error != nil {
				return fmt.Errorf("%s API error: %s", p.name, chatResp.Error.Message)
			}
			if chatResp.Usage != nil {
				lastUsage = &Usage{
					InputTokens:  chatResp.Usage.PromptTokens,
					OutputTokens: chatResp.Usage.CompletionTokens,
				}
			}

			for _, choice := range chatResp.Choices {
				if choice.Delta == nil {
					continue
				}
				if thinking := choice.Delta.ReasoningContent + choice.Delta.Reasoning; thinking != "" {
					if !emit(Chunk{Kind: ChunkThinking, Text: thinking}) {
						return nil
					}
				}
				if choice.Delta.Content != "" {
					if !emit(Chunk{Kind: ChunkText, Text: choice.Delta.Content}) {
						return nil
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%s streaming error: %w", p.name, err)
		}
		if lastUsage != nil {
			emit(Chunk{Kind: ChunkUsage, Usage: lastUsage})
		}
		return nil
	}), nil
}

func (p *OpenAICompatProvider) buildChatRequest(req Request, stream bool) oaiChatRequest {
	chatReq := oaiChatRequest{
		Model:    req.Model,
		Messages: buildCompatMessages(req.System, req.Messages),
		Stream:   stream,
	}
	if stream {
		chatReq.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		v := req.MaxTokens
		chatReq.MaxTokens = &v
	}
	if p.thinkControl {
		v := req.Think
		chatReq.Think = &v
	}
	return chatReq
}

func buildCompatMessages(system string, messages []Message) []oaiMessage {
	var result []oaiMessage
	if system != "" {
		result = append(result, oaiMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser:
			text := collectTextParts(msg.Parts)
			images := collectImageParts(msg.Parts)
			if len(images) > 0 {
				parts := make([]oaiContentPart, 0, len(images)+1)
				for _, img := range images {
					parts = append(parts, oaiContentPart{
						Type: "image_url",
						ImageURL: &oaiImageURL{
							URL: fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Data),
						},
					})
				}
				if text != "" {
					parts = append(parts, oaiContentPart{Type: "text", Text: text})
				}
				result = append(result, oaiMessage{Role: string(msg.Role), Content: parts})
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, oaiMessage{Role: string(msg.Role), Content: text})
		case RoleAssistant:
			text, toolCalls := splitCompatParts(msg.Parts)
			if len(toolCalls) > 0 {
				result = append(result, oaiMessage{
					Role:      "assistant",
					Content:   text,
					ToolCalls: toolCalls,
				})
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, oaiMessage{Role: "assistant", Content: text})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, oaiMessage{
					Role:       "tool",
					Content:    part.ToolResult.Content,
					ToolCallID: part.ToolResult.ID,
				})
			}
		}
	}
	return result
}

func collectImageParts(parts []Part) []Image {
	var images []Image
	for _, part := range parts {
		if part.Type == PartImage && part.Image != nil {
			images = append(images, *part.Image)
		}
	}
	return images
}

func splitCompatParts(parts []Part) (string, []oaiToolCall) {
	var textParts []string
	var toolCalls []oaiToolCall
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			call := oaiToolCall{ID: part.ToolCall.ID, Type: "function"}
			call.Function.Name = part.ToolCall.Name
			call.Function.Arguments = string(part.ToolCall.Arguments)
			toolCalls = append(toolCalls, call)
		}
	}
	return strings.Join(textParts, ""), toolCalls
}

func buildCompatTools(specs []ToolSpec) []oaiTool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]oaiTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			continue
		}
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools
}

