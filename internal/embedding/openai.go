package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openaiDefaultModel = "text-embedding-3-small"

// OpenAI embeds through the OpenAI embeddings API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates an OpenAI embedding provider.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) DefaultModel() string { return openaiDefaultModel }

func (p *OpenAI) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	if model == "" {
		model = openaiDefaultModel
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding API error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(resp.Data))
	for _, emb := range resp.Data {
		if emb.Index < 0 || int(emb.Index) >= len(vectors) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", emb.Index)
		}
		vectors[emb.Index] = emb.Embedding
	}
	return vectors, nil
}
