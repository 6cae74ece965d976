package llm

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/deskmind-ai/deskmind/internal/event"
)

// MaxToolRounds caps detection rounds per turn so a confused model
// cannot spin forever.
const MaxToolRounds = 30

// MaxToolOutputChars caps a single tool result before it reenters the
// model context.
const MaxToolOutputChars = 100000

const truncationMarker = "... [Output truncated due to length]"

// Dispatcher executes tool calls on behalf of the loop.
type Dispatcher interface {
	// Owner names the subsystem serving a tool, for event attribution.
	Owner(name string) string
	// Dispatch runs one call and returns its textual result. Failures
	// come back as error strings so the model can react to them.
	Dispatch(ctx context.Context, call ToolCall) string
}

// LoopOptions configure one tool-loop run.
type LoopOptions struct {
	Provider   Provider
	Model      string
	System     string
	Tools      []ToolSpec
	MaxTokens  int
	Dispatcher Dispatcher
	Events     event.Publisher
	Logger     *slog.Logger
}

// LoopResult carries the loop outcome: the extended message history,
// one record per executed call, accumulated usage, and how far the
// loop got.
type LoopResult struct {
	Messages  []Message
	Records   []event.ToolCallRecord
	Usage     Usage
	Rounds    int
	Cancelled bool
}

// RunToolLoop drives detection rounds until the model stops asking for
// tools, the round budget runs out, or the context is cancelled. Each
// round makes one blocking detection call with thinking off, executes
// the requested calls in order, and feeds results back into history.
// The final answer is not produced here: once the loop returns, the
// caller streams it from the extended history.
func RunToolLoop(ctx context.Context, messages []Message, opts LoopOptions) (*LoopResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	result := &LoopResult{Messages: append([]Message{}, messages...)}
	for round := 0; round < MaxToolRounds; round++ {
		if ctx.Err() != nil {
			result.Cancelled = true
			return result, nil
		}

		turn, err := opts.Provider.Detect(ctx, Request{
			Model:     opts.Model,
			System:    opts.System,
			Messages:  result.Messages,
			Tools:     opts.Tools,
			Think:     false,
			MaxTokens: opts.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		result.Usage.Add(turn.Usage)
		result.Rounds++

		if len(turn.ToolCalls) == 0 {
			return result, nil
		}
		logger.Debug("tool round", "round", round+1, "calls", len(turn.ToolCalls))

		result.Messages = append(result.Messages, AssistantToolCalls(turn.Text, turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			if ctx.Err() != nil {
				result.Cancelled = true
				return result, nil
			}

			owner := opts.Dispatcher.Owner(call.Name)
			opts.Events.Publish(event.ToolCall{
				Tool:   call.Name,
				Server: owner,
				Status: event.ToolStatusCalling,
			})
			logger.Debug("tool call", "tool", call.Name, "server", owner)

			output := TruncateToolOutput(opts.Dispatcher.Dispatch(ctx, call))

			opts.Events.Publish(event.ToolCall{
				Tool:   call.Name,
				Server: owner,
				Status: event.ToolStatusComplete,
				Result: output,
			})
			result.Records = append(result.Records, event.ToolCallRecord{
				Name:      call.Name,
				Server:    owner,
				Arguments: call.Arguments,
				Result:    output,
			})
			result.Messages = append(result.Messages, ToolResultMessage(call.ID, call.Name, output, false))
		}
	}

	logger.Warn("tool loop hit round limit", "rounds", MaxToolRounds)
	return result, nil
}

// TruncateToolOutput cuts oversized tool output at a rune boundary and
// appends a marker the model can see.
func TruncateToolOutput(output string) string {
	if len(output) <= MaxToolOutputChars {
		return output
	}
	cut := MaxToolOutputChars
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + truncationMarker
}
