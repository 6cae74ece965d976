package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildCompatMessages(t *testing.T) {
	messages := []Message{
		UserText("list the files"),
		AssistantToolCalls("checking", []ToolCall{
			{ID: "call_1", Name: "run_command", Arguments: json.RawMessage(`{"command":"ls"}`)},
		}),
		ToolResultMessage("call_1", "run_command", "main.go", false),
		AssistantText("done"),
	}

	out := buildCompatMessages("be helpful", messages)
	if len(out) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be helpful" {
		t.Errorf("system message = %+v", out[0])
	}
	if out[1].Role != "user" {
		t.Errorf("message 1 role = %q, want user", out[1].Role)
	}
	if out[2].Role != "assistant" || len(out[2].ToolCalls) != 1 {
		t.Errorf("assistant message = %+v", out[2])
	}
	if out[2].ToolCalls[0].Function.Name != "run_command" {
		t.Errorf("tool call name = %q", out[2].ToolCalls[0].Function.Name)
	}
	if out[3].Role != "tool" || out[3].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", out[3])
	}
	if out[4].Role != "assistant" || out[4].Content != "done" {
		t.Errorf("final message = %+v", out[4])
	}
}

func TestBuildCompatMessages_Images(t *testing.T) {
	messages := []Message{
		UserWithImages("what is on screen?", []Image{{MediaType: "image/png", Data: "aGVsbG8="}}),
	}

	out := buildCompatMessages("", messages)
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}

	parts, ok := out[0].Content.([]oaiContentPart)
	if !ok {
		t.Fatalf("content type = %T, want []oaiContentPart", out[0].Content)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	if parts[0].Type != "image_url" || parts[0].ImageURL == nil {
		t.Errorf("part 0 = %+v", parts[0])
	}
	if !strings.HasPrefix(parts[0].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image URL = %q", parts[0].ImageURL.URL)
	}
	if parts[1].Type != "text" || parts[1].Text != "what is on screen?" {
		t.Errorf("part 1 = %+v", parts[1])
	}
}

func TestOpenAICompatDetect(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("request body parse: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"choices": [{"message": {
				"content": "let me check",
				"tool_calls": [
					{"id": "call_9", "type": "function", "function": {"name": "run_command", "arguments": "{\"command\":\"ls\"}"}},
					{"type": "function", "function": {"name": "read_output", "arguments": ""}}
				]
			}, "finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7}
		}`)
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("openai", server.URL, "sk-test")
	turn, err := p.Detect(context.Background(), Request{
		Model:    "gpt-5.2",
		Messages: []Message{UserText("list files")},
		Tools:    []ToolSpec{{Name: "run_command", Schema: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if turn.Text != "let me check" {
		t.Errorf("text = %q", turn.Text)
	}
	if len(turn.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(turn.ToolCalls))
	}
	if turn.ToolCalls[0].ID != "call_9" || turn.ToolCalls[0].Name != "run_command" {
		t.Errorf("call 0 = %+v", turn.ToolCalls[0])
	}
	// Missing IDs and arguments get usable defaults.
	if turn.ToolCalls[1].ID != "call_1" {
		t.Errorf("call 1 ID = %q, want synthesized call_1", turn.ToolCalls[1].ID)
	}
	if string(turn.ToolCalls[1].Arguments) != "{}" {
		t.Errorf("call 1 args = %q, want {}", turn.ToolCalls[1].Arguments)
	}
	if turn.Usage.InputTokens != 12 || turn.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", turn.Usage)
	}

	if stream, ok := gotBody["stream"].(bool); ok && stream {
		t.Error("detection call must not stream")
	}
	if _, ok := gotBody["tools"]; !ok {
		t.Error("expected tools in request body")
	}
	if _, ok := gotBody["think"]; ok {
		t.Error("think knob must stay absent for plain compat servers")
	}
}

func TestOpenAICompatDetect_OllamaThinkKnob(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices": [{"message": {"content": "hi"}}]}`)
	}))
	defer server.Close()

	p := NewOllamaProvider("ollama", server.URL)
	if _, err := p.Detect(context.Background(), Request{Model: "qwen3:8b", Messages: []Message{UserText("hi")}}); err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	think, ok := gotBody["think"].(bool)
	if !ok {
		t.Fatal("expected think field in Ollama request")
	}
	if think {
		t.Error("detection must run with think=false")
	}
}

func TestOpenAICompatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"reasoning\":\"hmm \"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\", world\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":4}}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOllamaProvider("ollama", server.URL)
	stream, err := p.Stream(context.Background(), Request{
		Model:    "qwen3:8b",
		Think:    true,
		Messages: []Message{UserText("hi")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	var text, thinking string
	var usage *Usage
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		switch chunk.Kind {
		case ChunkText:
			text += chunk.Text
		case ChunkThinking:
			thinking += chunk.Text
		case ChunkUsage:
			usage = chunk.Usage
		}
	}

	if text != "Hello, world" {
		t.Errorf("text = %q, want %q", text, "Hello, world")
	}
	if thinking != "hmm " {
		t.Errorf("thinking = %q, want %q", thinking, "hmm ")
	}
	if usage == nil || usage.InputTokens != 9 || usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestOpenAICompatStream_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "bad key"}}`)
	}))
	defer server.Close()

	p := NewOpenAICompatProvider("openai", server.URL, "sk-bad")
	stream, err := p.Stream(context.Background(), Request{Model: "gpt-5.2", Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	if err == nil || err == io.EOF {
		t.Fatalf("Recv() error = %v, want API error", err)
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("error = %q, want status 401 mention", err)
	}
}
