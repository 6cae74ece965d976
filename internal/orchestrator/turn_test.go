package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/deskmind-ai/deskmind/internal/capture"
	"github.com/deskmind-ai/deskmind/internal/event"
	"github.com/deskmind-ai/deskmind/internal/llm"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestTurnStreamsAndPersists(t *testing.T) {
	f := newFixture(t)
	f.provider.AddTurn(llm.MockTurn{Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}})
	f.provider.AddTurn(llm.MockTurn{Text: "The answer is 42.", Usage: llm.Usage{InputTokens: 20, OutputTokens: 7}})

	if err := f.orch.Submit("what is the answer", "", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitIdle(t)

	assertOrder(t, f.events.types(),
		"query", "response_chunk", "response_complete", "token_usage", "conversation_saved")

	complete := f.waitEvent(t, "response_complete").(event.ResponseComplete)
	if complete.Content != "The answer is 42." {
		t.Fatalf("response_complete = %q", complete.Content)
	}

	chunks := 0
	for _, e := range f.events.all() {
		if e.EventType() == "response_chunk" {
			chunks++
		}
	}
	if chunks < 2 {
		t.Fatalf("answer streamed in %d chunks, want several", chunks)
	}

	usage := f.waitEvent(t, "token_usage").(event.TokenUsage)
	if usage.InputTokens != 30 || usage.OutputTokens != 12 || usage.TotalTokens != 42 {
		t.Fatalf("token usage = %+v", usage)
	}

	// The final stream runs with reasoning enabled.
	if req := f.provider.LastRequest(); !req.Think {
		t.Fatal("final stream request had Think off")
	}

	convID := f.orch.ConversationID()
	if convID == "" {
		t.Fatal("no conversation created")
	}
	conv, err := f.store.GetConversation(context.Background(), convID)
	if err != nil || conv == nil {
		t.Fatalf("GetConversation: %v %v", conv, err)
	}
	if conv.Title != "what is the answer" {
		t.Fatalf("title = %q", conv.Title)
	}
	saved := f.waitEvent(t, "conversation_saved").(event.ConversationSaved)
	if saved.ConversationID != convID || saved.Title != conv.Title {
		t.Fatalf("conversation_saved = %+v", saved)
	}

	msgs, err := f.store.GetMessages(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "what is the answer" {
		t.Fatalf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "The answer is 42." {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
}

func TestTurnThinkingBoundary(t *testing.T) {
	f := newFixture(t)
	f.provider.AddTurn(llm.MockTurn{})
	f.provider.AddTurn(llm.MockTurn{Thinking: "weighing the options", Text: "Go with plan B."})

	if err := f.orch.Submit("which plan", "", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitIdle(t)

	assertOrder(t, f.events.types(),
		"thinking_chunk", "thinking_complete", "response_chunk", "response_complete")

	count := 0
	for _, e := range f.events.all() {
		if e.EventType() == "thinking_complete" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("thinking_complete published %d times, want once", count)
	}
}

func TestTurnFallbackTextAfterToolCalls(t *testing.T) {
	f := newFixture(t)
	f.provider.AddToolCall("c1", "mystery_tool", map[string]any{"path": "/tmp"})
	f.provider.AddTurn(llm.MockTurn{})
	f.provider.AddTurn(llm.MockTurn{})

	if err := f.orch.Submit("do the thing", "", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitIdle(t)

	assertOrder(t, f.events.types(),
		"query", "tool_call", "tool_call", "response_complete", "token_usage",
		"tool_calls_summary", "conversation_saved")

	summary := f.waitEvent(t, "tool_calls_summary").(event.ToolCallsSummary)
	if len(summary.ToolCalls) != 1 || summary.ToolCalls[0].Name != "mystery_tool" {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.Contains(summary.ToolCalls[0].Result, "Unknown tool") {
		t.Fatalf("result = %q", summary.ToolCalls[0].Result)
	}

	msgs, err := f.store.GetMessages(context.Background(), f.orch.ConversationID())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "(completed tool calls)" {
		t.Fatalf("messages = %+v, want fallback assistant text", msgs)
	}
}

func TestTurnSessionModeExpires(t *testing.T) {
	f := newFixture(t)
	f.provider.AddToolCall("c1", "request_session_mode", map[string]any{"reason": "install deps"})
	f.provider.AddTurn(llm.MockTurn{})
	f.provider.AddTurn(llm.MockTurn{Text: "All installed."})

	// Approve the session request as soon as it appears.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			for _, e := range f.events.all() {
				if req, ok := e.(event.TerminalSessionRequest); ok {
					f.terminal.ResolveSession(req.RequestID, true)
					return
				}
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	if err := f.orch.Submit("set up the project", "", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitIdle(t)

	if f.terminal.SessionMode() {
		t.Fatal("session mode survived the turn")
	}
	assertOrder(t, f.events.types(),
		"terminal_session_request", "terminal_session_started",
		"response_complete", "terminal_session_ended")
}

func TestStopCancelsTurn(t *testing.T) {
	f := newFixture(t)
	f.provider.AddTurn(llm.MockTurn{Text: "never delivered", Delay: 10 * time.Second})

	if err := f.orch.Submit("slow question", "", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitEvent(t, "query")
	f.orch.Stop()
	f.waitIdle(t)

	if msgs := f.errorMessages(); len(msgs) != 0 {
		t.Fatalf("cancellation raised errors: %v", msgs)
	}
	if _, ok := f.events.first("response_complete"); ok {
		t.Fatal("cancelled turn still streamed a final answer")
	}

	// The user's side of the turn persists even when nothing came back.
	convID := f.orch.ConversationID()
	if convID == "" {
		t.Fatal("cancelled turn created no conversation")
	}
	msgs, err := f.store.GetMessages(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("messages = %+v, want the user message only", msgs)
	}
}

func TestTurnProviderError(t *testing.T) {
	f := newFixture(t)
	f.provider.AddError(errors.New("api quota exhausted"))

	if err := f.orch.Submit("hello", "", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitIdle(t)

	found := false
	for _, msg := range f.errorMessages() {
		if strings.Contains(msg, "Error processing:") && strings.Contains(msg, "api quota exhausted") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no processing error event, got %v", f.errorMessages())
	}

	// Nothing to persist: no text ever arrived.
	if got := f.orch.ConversationID(); got != "" {
		t.Fatalf("failed turn created conversation %q", got)
	}
	summaries, err := f.store.ListConversations(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("store has %d conversations, want none", len(summaries))
	}
}

func TestTurnAutoCapture(t *testing.T) {
	capt := &fakeCapturer{data: pngBytes(t)}
	f := newFixtureWith(t, func(o *Options) { o.Capturer = capt })
	f.provider.AddTurn(llm.MockTurn{Text: "A terminal with tests running."})

	if err := f.orch.Submit("what is on my screen", capture.ModeFullscreen, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitIdle(t)

	if got := capt.callCount(); got != 1 {
		t.Fatalf("capturer called %d times, want 1", got)
	}
	f.waitEvent(t, "screenshot_attached")

	// Vision turns bypass the tool loop: one streaming request, image
	// aboard, no tools offered.
	if got := f.provider.RequestCount(); got != 1 {
		t.Fatalf("provider served %d requests, want 1", got)
	}
	req := f.provider.LastRequest()
	if !llm.HasImages(req.Messages) {
		t.Fatal("stream request carried no image")
	}
	if len(req.Tools) != 0 {
		t.Fatalf("stream request offered %d tools, want none", len(req.Tools))
	}

	msgs, err := f.store.GetMessages(context.Background(), f.orch.ConversationID())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 || len(msgs[0].Images) != 1 {
		t.Fatalf("user message images = %+v", msgs)
	}

	// The attachment was consumed by the turn.
	if f.shots.Count() != 0 {
		t.Fatalf("registry still holds %d screenshots", f.shots.Count())
	}
	f.waitEvent(t, "screenshot_removed")

	// With history present the next turn must not capture again.
	f.provider.AddTurn(llm.MockTurn{})
	f.provider.AddTurn(llm.MockTurn{Text: "Still the same screen."})
	if err := f.orch.Submit("and now?", capture.ModeFullscreen, ""); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	f.waitIdle(t)
	if got := capt.callCount(); got != 1 {
		t.Fatalf("capturer called %d times after second turn, want still 1", got)
	}
}

func TestTurnCaptureFailureIsNonFatal(t *testing.T) {
	capt := &fakeCapturer{err: errors.New("no display")}
	f := newFixtureWith(t, func(o *Options) { o.Capturer = capt })
	f.provider.AddTurn(llm.MockTurn{})
	f.provider.AddTurn(llm.MockTurn{Text: "Answered blind."})

	if err := f.orch.Submit("what is on my screen", capture.ModeFullscreen, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitIdle(t)

	if msgs := f.errorMessages(); len(msgs) != 0 {
		t.Fatalf("capture failure surfaced as error: %v", msgs)
	}
	complete := f.waitEvent(t, "response_complete").(event.ResponseComplete)
	if complete.Content != "Answered blind." {
		t.Fatalf("response = %q", complete.Content)
	}
}
