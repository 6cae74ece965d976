package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-embedding-001"

// Gemini embeds through the Gemini API.
type Gemini struct {
	apiKey string
}

// NewGemini creates a Gemini embedding provider.
func NewGemini(apiKey string) *Gemini {
	return &Gemini{apiKey: apiKey}
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) DefaultModel() string { return geminiDefaultModel }

func (p *Gemini) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client error: %w", err)
	}

	if model == "" {
		model = geminiDefaultModel
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding API error: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
