// Package retriever narrows the tool list sent to the model. Tool
// descriptions are embedded once per registration change; each query
// is embedded at selection time and matched by cosine similarity.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/deskmind-ai/deskmind/internal/embedding"
)

// DefaultTopK is how many tools cosine selection contributes.
const DefaultTopK = 5

// DefaultCandidates are the local embedding models probed at startup
// when no model is configured.
var DefaultCandidates = []string{"nomic-embed-text", "mxbai-embed-large", "all-minilm"}

// Tool is the slice of tool metadata the retriever works with.
type Tool struct {
	Name        string
	Description string
	AlwaysOn    bool
}

// Options configure a Retriever.
type Options struct {
	Provider   embedding.Provider // nil disables retrieval entirely
	Model      string             // explicit model; empty probes Candidates
	Candidates []string           // defaults to DefaultCandidates
	TopK       int                // defaults to DefaultTopK
	Logger     *slog.Logger
}

// Retriever selects the tools relevant to a query. When disabled it
// passes the full tool list through unchanged.
type Retriever struct {
	provider   embedding.Provider
	candidates []string
	topK       int
	logger     *slog.Logger

	mu      sync.RWMutex
	model   string
	enabled bool
	cache   map[string][]float64 // tool name -> description vector
}

// New creates a Retriever. Call Probe before first use; until then the
// retriever is disabled.
func New(opts Options) *Retriever {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	candidates := opts.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		provider:   opts.Provider,
		candidates: candidates,
		topK:       topK,
		logger:     logger.With("component", "retriever"),
		model:      opts.Model,
		cache:      make(map[string][]float64),
	}
}

// Probe verifies the embedding backend. With an explicit model it
// checks that one; otherwise it walks the candidate list and keeps the
// first model that answers. No answer leaves retrieval disabled and
// every query sees the full tool list.
func (r *Retriever) Probe(ctx context.Context) {
	if r.provider == nil {
		r.logger.Info("tool retrieval disabled by configuration")
		return
	}

	try := func(model string) bool {
		_, err := r.provider.Embed(ctx, []string{"ping"}, model)
		return err == nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model != "" {
		if try(r.model) {
			r.enabled = true
			r.logger.Info("tool retrieval enabled", "backend", r.provider.Name(), "model", r.model)
			return
		}
		r.logger.Warn("embedding model unavailable, retrieval disabled", "model", r.model)
		return
	}
	for _, candidate := range r.candidates {
		if try(candidate) {
			r.model = candidate
			r.enabled = true
			r.logger.Info("tool retrieval enabled", "backend", r.provider.Name(), "model", candidate)
			return
		}
	}
	r.logger.Info("no embedding model available, retrieval disabled")
}

// Enabled reports whether cosine selection is active.
func (r *Retriever) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Model returns the embedding model in use, if any.
func (r *Retriever) Model() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

// Reembed rebuilds the description-vector cache for the given tool
// set. The cache always mirrors the current registration: on failure
// it is cleared and retrieval falls back to the full list until the
// next successful rebuild.
func (r *Retriever) Reembed(ctx context.Context, tools []Tool) error {
	r.mu.Lock()
	enabled := r.enabled
	model := r.model
	r.mu.Unlock()
	if !enabled {
		return nil
	}

	texts := make([]string, len(tools))
	for i, tool := range tools {
		texts[i] = fmt.Sprintf("%s: %s", tool.Name, tool.Description)
	}

	var vectors [][]float64
	if len(texts) > 0 {
		var err error
		vectors, err = r.provider.Embed(ctx, texts, model)
		if err != nil {
			r.mu.Lock()
			r.cache = make(map[string][]float64)
			r.mu.Unlock()
			return fmt.Errorf("embed tool descriptions: %w", err)
		}
	}

	cache := make(map[string][]float64, len(tools))
	for i, tool := range tools {
		cache[tool.Name] = vectors[i]
	}
	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
	r.logger.Debug("reembedded tool descriptions", "tools", len(tools))
	return nil
}

// Select returns the names of the tools to expose for a query:
// every always-on tool plus the top-K by cosine similarity. When
// retrieval is disabled (or the cache is cold) all tools come back.
func (r *Retriever) Select(ctx context.Context, query string, tools []Tool) []string {
	r.mu.RLock()
	enabled := r.enabled
	model := r.model
	cache := r.cache
	r.mu.RUnlock()

	all := func() []string {
		names := make([]string, len(tools))
		for i, tool := range tools {
			names[i] = tool.Name
		}
		return names
	}

	if !enabled || len(cache) == 0 {
		return all()
	}

	selected := make([]string, 0, r.topK+4)
	included := make(map[string]bool)
	for _, tool := range tools {
		if tool.AlwaysOn {
			selected = append(selected, tool.Name)
			included[tool.Name] = true
		}
	}

	vectors, err := r.provider.Embed(ctx, []string{query}, model)
	if err != nil || len(vectors) != 1 {
		r.logger.Warn("query embedding failed, using full tool list", "error", err)
		return all()
	}
	queryVec := vectors[0]
	if isZero(queryVec) {
		return selected
	}

	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(tools))
	for _, tool := range tools {
		if included[tool.Name] {
			continue
		}
		vec, ok := cache[tool.Name]
		if !ok {
			// Cache out of sync with registration; fail open.
			return all()
		}
		ranked = append(ranked, scored{tool.Name, embedding.CosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	for i := 0; i < len(ranked) && i < r.topK; i++ {
		selected = append(selected, ranked[i].name)
	}
	return selected
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
