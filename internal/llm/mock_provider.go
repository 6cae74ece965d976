package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockProvider is a scripted Provider for tests. Configured turns are
// consumed in order; each Detect or Stream call takes the next one.
type MockProvider struct {
	name string

	mu       sync.Mutex
	turns    []MockTurn
	index    int
	Requests []Request
}

// MockTurn is one scripted response.
type MockTurn struct {
	Text      string
	Thinking  string
	ToolCalls []ToolCall
	Usage     Usage
	Err       error
	Delay     time.Duration
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (p *MockProvider) Name() string { return p.name }

// AddTurn appends a scripted turn.
func (p *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return p
}

// AddTextResponse appends a plain text turn.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddTurn(MockTurn{Text: text})
}

// AddToolCall appends a turn that requests a single tool call. args is
// marshalled to JSON.
func (p *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError appends a failing turn.
func (p *MockProvider) AddError(err error) *MockProvider {
	return p.AddTurn(MockTurn{Err: err})
}

// Reset clears recorded requests and rewinds the turn cursor.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
	p.Requests = nil
}

// RequestCount reports how many calls the provider has served.
func (p *MockProvider) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, or a zero Request when
// none were made.
func (p *MockProvider) LastRequest() Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return Request{}
	}
	return p.Requests[len(p.Requests)-1]
}

func (p *MockProvider) next(req Request) (MockTurn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.index >= len(p.turns) {
		return MockTurn{}, fmt.Errorf("mock provider %s: no turn configured for request %d", p.name, len(p.Requests))
	}
	turn := p.turns[p.index]
	p.index++
	return turn, nil
}

func (p *MockProvider) Detect(ctx context.Context, req Request) (*Turn, error) {
	turn, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	if turn.Delay > 0 {
		select {
		case <-time.After(turn.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Turn{Text: turn.Text, ToolCalls: turn.ToolCalls, Usage: turn.Usage}, nil
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	turn, err := p.next(req)
	if err != nil {
		return nil, err
	}
	return newChunkStream(ctx, func(ctx context.Context, emit func(Chunk) bool) error {
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Err != nil {
			return turn.Err
		}
		if turn.Thinking != "" {
			if !emit(Chunk{Kind: ChunkThinking, Text: turn.Thinking}) {
				return nil
			}
		}
		for _, piece := range chunkText(turn.Text, 16) {
			if !emit(Chunk{Kind: ChunkText, Text: piece}) {
				return nil
			}
		}
		usage := turn.Usage
		emit(Chunk{Kind: ChunkUsage, Usage: &usage})
		return nil
	}), nil
}

// chunkText splits text into fixed-size pieces so streamed output
// exercises reassembly.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > size {
		chunks = append(chunks, text[:size])
		text = text[size:]
	}
	chunks = append(chunks, text)
	return chunks
}
