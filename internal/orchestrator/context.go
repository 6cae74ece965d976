package orchestrator

import (
	"context"
	"sync"
)

// RequestContext tracks one user turn: a monotonic id, the cancel
// flag every subsystem checks, an ordered list of cancel callbacks,
// the skills forced by slash commands, and a done signal. Exactly one
// context is current at a time; the orchestrator owns it.
type RequestContext struct {
	ID     uint64
	forced []string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	onCancel  []func()
	done      chan struct{}
	doneOnce  sync.Once
}

func newRequestContext(parent context.Context, id uint64, forced []string) *RequestContext {
	ctx, cancel := context.WithCancel(parent)
	return &RequestContext{
		ID:     id,
		forced: forced,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context returns the turn-scoped context. Cancel aborts it, so
// provider calls, tool dispatch, and subprocess waits all unwind from
// the one signal.
func (rc *RequestContext) Context() context.Context { return rc.ctx }

// Forced returns the skill names forced by slash commands.
func (rc *RequestContext) Forced() []string { return rc.forced }

// OnCancel registers a callback to run when the turn is cancelled.
// Callbacks run in registration order. Registering after cancellation
// runs the callback immediately.
func (rc *RequestContext) OnCancel(fn func()) {
	rc.mu.Lock()
	if rc.cancelled {
		rc.mu.Unlock()
		fn()
		return
	}
	rc.onCancel = append(rc.onCancel, fn)
	rc.mu.Unlock()
}

// Cancel sets the cancel flag, aborts the turn context, and runs the
// registered callbacks in order. Idempotent.
func (rc *RequestContext) Cancel() {
	rc.mu.Lock()
	if rc.cancelled {
		rc.mu.Unlock()
		return
	}
	rc.cancelled = true
	callbacks := rc.onCancel
	rc.onCancel = nil
	rc.mu.Unlock()

	rc.cancel()
	for _, fn := range callbacks {
		fn()
	}
}

// Cancelled reports whether Cancel has been called.
func (rc *RequestContext) Cancelled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.cancelled
}

// MarkDone closes the done signal. Idempotent.
func (rc *RequestContext) MarkDone() {
	rc.doneOnce.Do(func() {
		close(rc.done)
		rc.cancel()
	})
}

// IsDone reports whether the turn has finished.
func (rc *RequestContext) IsDone() bool {
	select {
	case <-rc.done:
		return true
	default:
		return false
	}
}

// Done returns the turn's completion signal.
func (rc *RequestContext) Done() <-chan struct{} { return rc.done }
