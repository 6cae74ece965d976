package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// Extended thinking budget used when a model carries the -thinking
// suffix. MaxTokens must exceed the budget or the API rejects the call.
const anthropicThinkingBudget = 10000

// AnthropicProvider talks to the Anthropic Messages API through the
// official SDK.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider from an API key. baseURL
// overrides the default endpoint when non-empty.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Detect(ctx context.Context, req Request) (*Turn, error) {
	params := p.buildParams(req, false)
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	turn := &Turn{
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	var texts []string
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			texts = append(texts, b.Text)
		case anthropic.ToolUseBlock:
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: json.RawMessage(b.Input),
			})
		}
	}
	turn.Text = strings.Join(texts, "")
	return turn, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	params := p.buildParams(req, req.Think)
	return newChunkStream(ctx, func(ctx context.Context, emit func(Chunk) bool) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		var usage Usage
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if !emit(Chunk{Kind: ChunkText, Text: d.Text}) {
						return nil
					}
				case anthropic.ThinkingDelta:
					if !emit(Chunk{Kind: ChunkThinking, Text: d.Thinking}) {
						return nil
					}
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = int(ev.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			return err
		}
		emit(Chunk{Kind: ChunkUsage, Usage: &usage})
		return nil
	}), nil
}

func (p *AnthropicProvider) buildParams(req Request, think bool) anthropic.MessageNewParams {
	model, thinkingModel := strings.CutSuffix(req.Model, "-thinking")
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}
	if think && thinkingModel {
		if params.MaxTokens <= anthropicThinkingBudget {
			params.MaxTokens += anthropicThinkingBudget
		}
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{
				BudgetTokens: anthropicThinkingBudget,
			},
		}
	}
	return params
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range msg.Parts {
				switch part.Type {
				case PartText:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case PartImage:
					blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MediaType, part.Image.Data))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range msg.Parts {
				switch part.Type {
				case PartText:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case PartToolCall:
					tc := part.ToolCall
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			// Tool results travel back as user-role messages.
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				tr := part.ToolResult
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: tr.ID,
						IsError:   anthropic.Bool(tr.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: tr.Content}},
						},
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return out
}

func buildAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := t.Schema["properties"]; ok {
			inputSchema.Properties = props
		}
		switch required := t.Schema["required"].(type) {
		case []string:
			inputSchema.Required = required
		case []any:
			list := make([]string, 0, len(required))
			for _, r := range required {
				if s, ok := r.(string); ok {
					list = append(list, s)
				}
			}
			inputSchema.Required = list
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return out
}
