// Package embedding turns text into vectors for semantic tool
// retrieval. Ollama is the default backend; OpenAI and Gemini are
// available for installs without a local embedding model.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/deskmind-ai/deskmind/internal/config"
)

// Provider generates embedding vectors.
type Provider interface {
	// Name returns the provider name for logs.
	Name() string

	// DefaultModel returns the model used when none is configured.
	DefaultModel() string

	// Embed returns one vector per input text, in input order. An
	// empty model selects the provider default.
	Embed(ctx context.Context, texts []string, model string) ([][]float64, error)
}

// New creates the provider named by backend. "auto" resolves to the
// local Ollama backend; the retriever decides at probe time whether it
// is usable.
func New(cfg *config.Config, backend string) (Provider, error) {
	switch backend {
	case "ollama", "auto", "":
		baseURL := cfg.Retriever.BaseURL
		if baseURL == "" {
			baseURL = cfg.Providers.Ollama.BaseURL
		}
		return NewOllama(baseURL), nil
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai embeddings require providers.openai.api_key")
		}
		return NewOpenAI(cfg.Providers.OpenAI.APIKey), nil
	case "gemini":
		if cfg.Providers.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini embeddings require providers.gemini.api_key")
		}
		return NewGemini(cfg.Providers.Gemini.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (valid: ollama, openai, gemini)", backend)
	}
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero-norm vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
