package llm

import (
	"context"
	"io"
)

// chunkStream adapts a producer goroutine to the Stream interface. The
// producer calls emit for each chunk and returns when the response is
// finished; emit reports false once the consumer has gone away.
type chunkStream struct {
	cancel context.CancelFunc
	chunks chan Chunk
	errc   chan error
	err    error
}

func newChunkStream(ctx context.Context, run func(ctx context.Context, emit func(Chunk) bool) error) *chunkStream {
	sctx, cancel := context.WithCancel(ctx)
	s := &chunkStream{
		cancel: cancel,
		chunks: make(chan Chunk, 16),
		errc:   make(chan error, 1),
	}
	go func() {
		defer close(s.chunks)
		emit := func(c Chunk) bool {
			select {
			case s.chunks <- c:
				return true
			case <-sctx.Done():
				return false
			}
		}
		if err := run(sctx, emit); err != nil {
			s.errc <- err
		}
	}()
	return s
}

func (s *chunkStream) Recv() (Chunk, error) {
	if s.err != nil {
		return Chunk{}, s.err
	}
	c, ok := <-s.chunks
	if !ok {
		select {
		case err := <-s.errc:
			s.err = err
		default:
			s.err = io.EOF
		}
		return Chunk{}, s.err
	}
	return c, nil
}

func (s *chunkStream) Close() error {
	s.cancel()
	return nil
}
