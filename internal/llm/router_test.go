package llm

import (
	"strings"
	"testing"

	"github.com/deskmind-ai/deskmind/internal/config"
)

func TestSplitModel(t *testing.T) {
	tests := []struct {
		model        string
		wantProvider string
		wantBare     string
	}{
		{"anthropic/claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"anthropic/claude-sonnet-4-5-thinking", "anthropic", "claude-sonnet-4-5-thinking"},
		{"openai/gpt-5.2", "openai", "gpt-5.2"},
		{"gemini/gemini-3-flash-preview", "gemini", "gemini-3-flash-preview"},
		{"lmstudio/qwen2.5-7b-instruct", "lmstudio", "qwen2.5-7b-instruct"},
		{"ollama/llama3.2", "ollama", "llama3.2"},
		{"qwen3:8b", "ollama", "qwen3:8b"},
		// Ollama model names may themselves contain slashes.
		{"library/custom-model", "ollama", "library/custom-model"},
	}

	for _, tt := range tests {
		provider, bare := SplitModel(tt.model)
		if provider != tt.wantProvider || bare != tt.wantBare {
			t.Errorf("SplitModel(%q) = (%q, %q), want (%q, %q)",
				tt.model, provider, bare, tt.wantProvider, tt.wantBare)
		}
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"anthropic", DialectAnthropic},
		{"gemini", DialectGemini},
		{"openai", DialectOpenAI},
		{"ollama", DialectOpenAI},
		{"lmstudio", DialectOpenAI},
	}
	for _, tt := range tests {
		if got := DialectFor(tt.provider); got != tt.want {
			t.Errorf("DialectFor(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	cfg := &config.Config{
		Providers: config.Providers{
			Default: "qwen3:8b",
			Anthropic: config.Provider{
				APIKey:    "sk-test",
				Model:     "claude-sonnet-4-5",
				MaxTokens: 8192,
			},
			Ollama: config.Provider{
				BaseURL: "http://localhost:11434",
				Model:   "qwen3:8b",
			},
		},
	}
	registry := NewRegistry(cfg)

	res, err := registry.Resolve("anthropic/claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want claude-sonnet-4-5", res.Model)
	}
	if res.Dialect != DialectAnthropic {
		t.Errorf("Dialect = %q, want %q", res.Dialect, DialectAnthropic)
	}
	if res.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, want 8192", res.MaxTokens)
	}

	// Missing key surfaces a routing error.
	_, err = registry.Resolve("openai/gpt-5.2")
	if err == nil {
		t.Fatal("expected error for unconfigured provider")
	}
	if !strings.Contains(err.Error(), "No API key configured") {
		t.Errorf("error = %q, want API key message", err)
	}

	// Bare names always route to the local server.
	res, err = registry.Resolve("qwen3:8b")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Provider.Name() != "ollama" {
		t.Errorf("provider = %q, want ollama", res.Provider.Name())
	}

	// Empty model falls back to the configured default.
	res, err = registry.Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Model != "qwen3:8b" {
		t.Errorf("default model = %q, want qwen3:8b", res.Model)
	}
}

func TestOllamaBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "http://localhost:11434/v1"},
		{"http://localhost:11434", "http://localhost:11434/v1"},
		{"http://localhost:11434/", "http://localhost:11434/v1"},
		{"http://remote:11434/v1", "http://remote:11434/v1"},
	}
	for _, tt := range tests {
		if got := ollamaBaseURL(tt.in); got != tt.want {
			t.Errorf("ollamaBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryAvailable(t *testing.T) {
	cfg := &config.Config{
		Providers: config.Providers{
			Default:   "anthropic/claude-sonnet-4-5",
			Anthropic: config.Provider{APIKey: "sk-test", Model: "claude-sonnet-4-5"},
			Ollama:    config.Provider{Model: "qwen3:8b"},
		},
	}
	registry := NewRegistry(cfg)

	models := registry.Available()
	if len(models) == 0 {
		t.Fatal("expected at least one model")
	}
	if models[0] != "anthropic/claude-sonnet-4-5" {
		t.Errorf("first model = %q, want the default", models[0])
	}

	seen := make(map[string]int)
	for _, m := range models {
		seen[m]++
		if seen[m] > 1 {
			t.Errorf("model %q listed twice", m)
		}
	}
	if seen["qwen3:8b"] != 1 {
		t.Error("expected the local model in the list")
	}
}
