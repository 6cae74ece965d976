package llm

import (
	"fmt"
	"strings"

	"github.com/deskmind-ai/deskmind/internal/config"
)

// Dialects group providers by the tool-schema shape they expect.
const (
	DialectAnthropic = "anthropic"
	DialectOpenAI    = "openai"
	DialectGemini    = "gemini"
)

// DialectFor maps a provider name to its tool-schema dialect. The
// OpenAI-compatible servers all share one.
func DialectFor(provider string) string {
	switch provider {
	case "anthropic":
		return DialectAnthropic
	case "gemini":
		return DialectGemini
	default:
		return DialectOpenAI
	}
}

// SplitModel breaks a routed model string into provider name and bare
// model. Unprefixed names route to the local Ollama server, so
// "qwen3:8b" works as-is while "anthropic/claude-sonnet-4-5" picks the
// hosted backend.
func SplitModel(model string) (provider, bare string) {
	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		switch prefix {
		case "anthropic", "openai", "gemini", "ollama", "lmstudio":
			return prefix, rest
		}
	}
	return "ollama", model
}

// Resolved is the outcome of routing a model string: the provider to
// call, the bare model name, and per-provider request settings.
type Resolved struct {
	Provider  Provider
	Model     string
	Dialect   string
	MaxTokens int
}

// Registry holds the configured providers and routes model strings to
// them.
type Registry struct {
	cfg       *config.Config
	providers map[string]Provider
}

// NewRegistry builds providers from configuration. Hosted backends are
// registered only when an API key is present; the local servers are
// always reachable by name.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{cfg: cfg, providers: make(map[string]Provider)}
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		r.providers["anthropic"] = NewAnthropicProvider(key, cfg.Providers.Anthropic.BaseURL)
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		base := cfg.Providers.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		r.providers["openai"] = NewOpenAICompatProvider("openai", base, key)
	}
	if key := cfg.Providers.Gemini.APIKey; key != "" {
		r.providers["gemini"] = NewGeminiProvider(key)
	}
	r.providers["ollama"] = NewOllamaProvider("ollama", ollamaBaseURL(cfg.Providers.Ollama.BaseURL))
	if base := cfg.Providers.LMStudio.BaseURL; base != "" {
		r.providers["lmstudio"] = NewOpenAICompatProvider("lmstudio", base, cfg.Providers.LMStudio.APIKey)
	}
	return r
}

// Ollama serves the OpenAI-compatible surface under /v1.
func ollamaBaseURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

// DefaultModel returns the configured default model string.
func (r *Registry) DefaultModel() string {
	return r.cfg.Providers.Default
}

// Resolve routes a model string to its provider. An empty model falls
// back to the configured default.
func (r *Registry) Resolve(model string) (*Resolved, error) {
	if model == "" {
		model = r.cfg.Providers.Default
	}
	name, bare := SplitModel(model)
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("No API key configured for %s", name)
	}
	res := &Resolved{Provider: p, Model: bare, Dialect: DialectFor(name)}
	switch name {
	case "anthropic":
		res.MaxTokens = r.cfg.Providers.Anthropic.MaxTokens
	case "openai":
		res.MaxTokens = r.cfg.Providers.OpenAI.MaxTokens
	case "gemini":
		res.MaxTokens = r.cfg.Providers.Gemini.MaxTokens
	case "ollama":
		res.MaxTokens = r.cfg.Providers.Ollama.MaxTokens
	case "lmstudio":
		res.MaxTokens = r.cfg.Providers.LMStudio.MaxTokens
	}
	return res, nil
}

// Available lists the model strings that can be routed right now, the
// configured default first.
func (r *Registry) Available() []string {
	seen := make(map[string]bool)
	var models []string
	add := func(m string) {
		if m == "" || seen[m] {
			return
		}
		seen[m] = true
		models = append(models, m)
	}
	add(r.cfg.Providers.Default)
	if _, ok := r.providers["anthropic"]; ok {
		add("anthropic/" + r.cfg.Providers.Anthropic.Model)
		add("anthropic/" + r.cfg.Providers.Anthropic.Model + "-thinking")
	}
	if _, ok := r.providers["openai"]; ok {
		add("openai/" + r.cfg.Providers.OpenAI.Model)
	}
	if _, ok := r.providers["gemini"]; ok {
		add("gemini/" + r.cfg.Providers.Gemini.Model)
	}
	add(r.cfg.Providers.Ollama.Model)
	if r.cfg.Providers.LMStudio.Model != "" {
		add("lmstudio/" + r.cfg.Providers.LMStudio.Model)
	}
	return models
}
