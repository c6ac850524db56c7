package dispatch

import (
	"context"
)

// Handle tracks one submitted task.
type Handle struct {
	done   chan struct{}
	result Result
	cancel context.CancelFunc
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{done: make(chan struct{}), cancel: cancel}
}

func (h *Handle) finish(r Result) {
	h.result = r
	close(h.done)
	h.cancel()
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel aborts the task, including any database call in flight. The task
// still completes and reports its outcome.
func (h *Handle) Cancel() {
	h.cancel()
}
