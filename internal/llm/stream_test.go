package llm

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestChunkStream_DrainsThenEOF(t *testing.T) {
	s := newChunkStream(context.Background(), func(ctx context.Context, emit func(Chunk) bool) error {
		emit(Chunk{Kind: ChunkText, Text: "a"})
		emit(Chunk{Kind: ChunkText, Text: "b"})
		return nil
	})

	var got string
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		got += chunk.Text
	}
	if got != "ab" {
		t.Errorf("got %q, want %q", got, "ab")
	}

	// EOF is sticky.
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv() after EOF = %v, want io.EOF", err)
	}
}

func TestChunkStream_ProducerErrorAfterChunks(t *testing.T) {
	wantErr := errors.New("backend fell over")
	s := newChunkStream(context.Background(), func(ctx context.Context, emit func(Chunk) bool) error {
		emit(Chunk{Kind: ChunkText, Text: "partial"})
		return wantErr
	})

	chunk, err := s.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if chunk.Text != "partial" {
		t.Errorf("chunk = %q, want partial", chunk.Text)
	}

	_, err = s.Recv()
	if !errors.Is(err, wantErr) {
		t.Errorf("Recv() error = %v, want %v", err, wantErr)
	}
}

func TestChunkStream_CloseStopsProducer(t *testing.T) {
	blocked := make(chan struct{})
	s := newChunkStream(context.Background(), func(ctx context.Context, emit func(Chunk) bool) error {
		defer close(blocked)
		for i := 0; ; i++ {
			if !emit(Chunk{Kind: ChunkText, Text: "x"}) {
				return nil
			}
		}
	})

	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	<-blocked
}
