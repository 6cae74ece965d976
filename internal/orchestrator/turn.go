package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/deskmind-ai/deskmind/internal/capture"
	"github.com/deskmind-ai/deskmind/internal/event"
	"github.com/deskmind-ai/deskmind/internal/llm"
	"github.com/deskmind-ai/deskmind/internal/prompt"
	"github.com/deskmind-ai/deskmind/internal/retriever"
	"github.com/deskmind-ai/deskmind/internal/skills"
	"github.com/deskmind-ai/deskmind/internal/store"
	"github.com/deskmind-ai/deskmind/internal/terminal"
	"github.com/deskmind-ai/deskmind/internal/toolserver"
)

// fallbackText stands in for the assistant message when the model ran
// tools but produced no closing text.
const fallbackText = "(completed tool calls)"

// turnOutcome is what a generation pass leaves behind for persistence.
type turnOutcome struct {
	text    string
	records []event.ToolCallRecord
	usage   llm.Usage
	err     error
}

// runTurn executes one accepted submission end to end. It always runs
// on its own goroutine; failures surface as error events, never as
// panics or silent drops.
func (o *Orchestrator) runTurn(rc *RequestContext, rawQuery, cleaned, captureMode string) {
	defer o.finishTurn(rc)

	o.events.Publish(event.Query{Content: rawQuery})

	// First message of a fresh context grabs the screen automatically,
	// so "what am I looking at" works without a manual attach.
	if captureMode == capture.ModeFullscreen && o.historyLen() == 0 && o.shots.Count() == 0 {
		if raw, err := o.capturer.CaptureFullscreen(rc.Context()); err != nil {
			o.logger.Warn("fullscreen capture failed", "error", err)
		} else if _, err := o.shots.Attach(raw); err != nil {
			o.logger.Warn("screenshot attach failed", "error", err)
		}
	}

	// Commands can start recording terminal events before persistence
	// runs, so bind them to this turn's position up front.
	if convID := o.ConversationID(); convID != "" {
		o.terminal.Bind(convID, o.historyLen())
	}

	shots := o.shots.List()
	outcome := o.generate(rc, cleaned, shots)

	if outcome.err != nil {
		if rc.Cancelled() {
			// Cancellation is not an error. Keep whatever partial text
			// accumulated and persist it like a normal turn.
			outcome.err = nil
		} else {
			o.logger.Error("turn failed", "request", rc.ID, "error", outcome.err)
			o.events.Publish(event.Error{Message: fmt.Sprintf("Error processing: %v", outcome.err)})
			if strings.TrimSpace(outcome.text) == "" {
				return
			}
		}
	}

	o.persistTurn(rawQuery, shots, outcome)
}

// finishTurn releases the busy slot. Session mode never outlives the
// turn that requested it.
func (o *Orchestrator) finishTurn(rc *RequestContext) {
	rc.MarkDone()
	o.mu.Lock()
	if o.current == rc {
		o.current = nil
	}
	o.mu.Unlock()
	o.terminal.ExpireSession()
	o.logger.Debug("turn finished", "request", rc.ID, "cancelled", rc.Cancelled())
}

// generate runs retrieval, the tool loop, and the streaming final
// call, returning whatever text and tool records it produced before
// finishing, failing, or being cancelled.
func (o *Orchestrator) generate(rc *RequestContext, cleaned string, shots []capture.Screenshot) turnOutcome {
	ctx := rc.Context()
	var out turnOutcome

	resolved, err := o.providers.Resolve(o.SelectedModel())
	if err != nil {
		out.err = err
		return out
	}

	// Tool census: the terminal's intercepted tools plus everything the
	// connected servers registered.
	census := append(terminal.Tools(), o.manager.Tools()...)
	rtools := make([]retriever.Tool, len(census))
	for i, t := range census {
		rtools[i] = retriever.Tool{Name: t.Name, Description: t.Description, AlwaysOn: t.AlwaysOn}
	}
	selected := o.retriever.Select(ctx, cleaned, rtools)
	keep := make(map[string]bool, len(selected))
	for _, name := range selected {
		keep[name] = true
	}
	exposed := make([]toolserver.Tool, 0, len(selected))
	for _, t := range census {
		if keep[t.Name] {
			exposed = append(exposed, t)
		}
	}

	active := o.skills.ForTurn(rc.Forced(), selected, o.dispatcher().Owner)
	template, _, err := o.store.GetSetting(ctx, store.SettingSystemPrompt)
	if err != nil {
		o.logger.Warn("read system prompt template", "error", err)
	}
	system := prompt.System(skills.PromptBlock(active), template)

	images := make([]llm.Image, len(shots))
	for i, shot := range shots {
		images[i] = llm.Image{MediaType: shot.MediaType, Data: shot.Data}
	}

	messages := o.providerHistory()
	if len(images) > 0 {
		messages = append(messages, llm.UserWithImages(cleaned, images))
	} else {
		messages = append(messages, llm.UserText(cleaned))
	}

	// Vision turns go straight to streaming: several backends reject
	// tool use combined with image payloads.
	if len(images) == 0 && len(exposed) > 0 {
		loop, err := llm.RunToolLoop(ctx, messages, llm.LoopOptions{
			Provider:   resolved.Provider,
			Model:      resolved.Model,
			System:     system,
			Tools:      toolserver.ProjectTools(resolved.Dialect, exposed),
			MaxTokens:  resolved.MaxTokens,
			Dispatcher: o.dispatcher(),
			Events:     o.events,
			Logger:     o.logger,
		})
		if err != nil {
			out.err = err
			return out
		}
		out.records = loop.Records
		out.usage.Add(loop.Usage)
		messages = loop.Messages
		if loop.Cancelled {
			return out
		}
	}
	if rc.Cancelled() {
		return out
	}

	text, usage, err := o.streamFinal(rc, resolved, system, messages)
	out.text = text
	out.usage.Add(usage)
	out.err = err
	return out
}

// streamFinal streams the answer from the extended history, publishing
// deltas as they arrive. Cancellation ends the stream cleanly and
// keeps whatever text accumulated; response_complete always closes a
// stream that started.
func (o *Orchestrator) streamFinal(rc *RequestContext, resolved *llm.Resolved, system string, messages []llm.Message) (string, llm.Usage, error) {
	var (
		text           strings.Builder
		usage          llm.Usage
		sawThinking    bool
		thinkingClosed bool
	)

	stream, err := resolved.Provider.Stream(rc.Context(), llm.Request{
		Model:     resolved.Model,
		System:    system,
		Messages:  messages,
		Think:     true,
		MaxTokens: resolved.MaxTokens,
	})
	if err != nil {
		return "", usage, err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if rc.Cancelled() {
				break
			}
			return text.String(), usage, err
		}

		switch chunk.Kind {
		case llm.ChunkThinking:
			sawThinking = true
			o.events.Publish(event.ThinkingChunk{Content: chunk.Text})
		case llm.ChunkText:
			if sawThinking && !thinkingClosed {
				thinkingClosed = true
				o.events.Publish(event.ThinkingComplete{})
			}
			text.WriteString(chunk.Text)
			o.events.Publish(event.ResponseChunk{Content: chunk.Text})
		case llm.ChunkUsage:
			if chunk.Usage != nil {
				usage.Add(*chunk.Usage)
			}
		}

		if rc.Cancelled() {
			break
		}
	}
	if sawThinking && !thinkingClosed {
		// The model reasoned but never answered, or was stopped mid
		// reasoning; close the panel regardless.
		o.events.Publish(event.ThinkingComplete{})
	}

	o.events.Publish(event.ResponseComplete{Content: text.String()})
	return text.String(), usage, nil
}

// persistTurn writes the finished turn to the store, appends it to the
// in-memory history, and broadcasts the closing events. It runs on a
// fresh context because persistence must survive turn cancellation.
func (o *Orchestrator) persistTurn(rawQuery string, shots []capture.Screenshot, outcome turnOutcome) {
	ctx := context.Background()

	text := strings.TrimSpace(outcome.text)
	if text == "" && len(outcome.records) > 0 {
		text = fallbackText
	}

	o.mu.Lock()
	convID, convTitle := o.convID, o.convTitle
	o.mu.Unlock()

	if convID == "" {
		convID = store.NewID()
		convTitle = titleFor(rawQuery)
		if err := o.store.CreateConversation(ctx, convID, convTitle); err != nil {
			o.logger.Error("create conversation", "error", err)
			o.events.Publish(event.Error{Message: fmt.Sprintf("Error saving conversation: %v", err)})
			return
		}
		o.mu.Lock()
		o.convID, o.convTitle = convID, convTitle
		o.mu.Unlock()

		o.terminal.Bind(convID, o.historyLen())
		o.terminal.FlushPending(ctx, convID)
	}

	images := make([]string, len(shots))
	for i, shot := range shots {
		images[i] = shot.Data
	}

	model := o.SelectedModel()
	userMsg := store.Message{Role: "user", Content: rawQuery, Images: images}
	if err := o.store.AddMessage(ctx, convID, &userMsg); err != nil {
		o.logger.Error("persist user message", "error", err)
	}
	assistantMsg := store.Message{Role: "assistant", Content: text, Model: model}
	if text != "" {
		if err := o.store.AddMessage(ctx, convID, &assistantMsg); err != nil {
			o.logger.Error("persist assistant message", "error", err)
		}
	}

	o.mu.Lock()
	o.history = append(o.history, historyEntry{
		role:      "user",
		content:   rawQuery,
		images:    images,
		timestamp: userMsg.CreatedAt,
	})
	if text != "" {
		o.history = append(o.history, historyEntry{
			role:      "assistant",
			content:   text,
			model:     model,
			timestamp: assistantMsg.CreatedAt,
		})
	}
	o.mu.Unlock()

	if outcome.usage.InputTokens > 0 || outcome.usage.OutputTokens > 0 {
		if err := o.store.AddTokenUsage(ctx, convID, outcome.usage.InputTokens, outcome.usage.OutputTokens); err != nil {
			o.logger.Error("accumulate token usage", "error", err)
		}
	}
	if input, output, err := o.store.GetTokenUsage(ctx, convID); err == nil {
		o.events.Publish(event.TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		})
	}

	if len(outcome.records) > 0 {
		o.events.Publish(event.ToolCallsSummary{ToolCalls: outcome.records})
	}
	o.events.Publish(event.ConversationSaved{ConversationID: convID, Title: convTitle})

	// The attachments now live inside the stored message.
	if len(shots) > 0 {
		o.shots.Clear()
	}
}

// providerHistory maps the in-memory history to provider messages.
// Past images are dropped; only the current turn's attachments travel.
func (o *Orchestrator) providerHistory() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]llm.Message, 0, len(o.history)+1)
	for _, e := range o.history {
		switch e.role {
		case "user":
			out = append(out, llm.UserText(e.content))
		case "assistant":
			out = append(out, llm.AssistantText(e.content))
		}
	}
	return out
}

func (o *Orchestrator) historyLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.history)
}

// toolDispatcher routes loop tool calls: intercepted terminal tools
// run in-process, everything else goes to its server.
type toolDispatcher struct {
	terminal *terminal.Service
	manager  *toolserver.Manager
}

func (d toolDispatcher) Owner(name string) string {
	if terminal.Handles(name) {
		return terminal.ServerName
	}
	return d.manager.Owner(name)
}

func (d toolDispatcher) Dispatch(ctx context.Context, call llm.ToolCall) string {
	if terminal.Handles(call.Name) {
		return d.terminal.HandleTool(ctx, call.Name, call.Arguments)
	}
	return d.manager.CallTool(ctx, call.Name, call.Arguments)
}

func (o *Orchestrator) dispatcher() toolDispatcher {
	return toolDispatcher{terminal: o.terminal, manager: o.manager}
}

// titleFor derives a conversation title from its first query.
func titleFor(query string) string {
	const max = 50
	runes := []rune(query)
	if len(runes) <= max {
		return query
	}
	return string(runes[:max]) + "…"
}
