package llm

import "context"

// Request is one call to a backend: model, conversation so far, tools
// the model may call, and generation knobs.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec

	// Think asks the backend to expose its reasoning stream where the
	// model supports it. Detection calls always run with Think off.
	Think bool

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// ChunkKind tags a streamed fragment.
type ChunkKind string

const (
	ChunkThinking ChunkKind = "thinking"
	ChunkText     ChunkKind = "text"
	ChunkUsage    ChunkKind = "usage"
)

// Chunk is one fragment of a streaming response.
type Chunk struct {
	Kind  ChunkKind
	Text  string
	Usage *Usage
}

// Stream yields response chunks until io.EOF. Close releases the
// underlying connection; it is safe to call after EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider is a single LLM backend. Detect makes one blocking call and
// reports either final text or tool calls; Stream yields the final
// answer incrementally once no more tools are needed.
type Provider interface {
	Name() string
	Detect(ctx context.Context, req Request) (*Turn, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}
