package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is one unit of submitted work. The caller owns it until it is
// enqueued; after that only the owning service's admission loop touches it.
// Its result slot is written at most once.
type Item struct {
	ID          string
	Payload     any
	Cost        float64
	SubmittedAt time.Time

	ctx    context.Context
	handle *Handle
}

// NewItem builds a work item carrying payload at the given admission cost.
// The item's context is derived from ctx so that cancelling the handle, or
// the caller's context ending, aborts an in-flight execution.
func NewItem(ctx context.Context, payload any, cost float64, submittedAt time.Time) *Item {
	itemCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	return &Item{
		ID:          uuid.NewString(),
		Payload:     payload,
		Cost:        cost,
		SubmittedAt: submittedAt,
		ctx:         itemCtx,
		handle:      h,
	}
}

// Context returns the item-scoped context used for backend execution.
func (it *Item) Context() context.Context {
	return it.ctx
}

// Handle returns the caller-facing result slot.
func (it *Item) Handle() *Handle {
	return it.handle
}

// Handle is the single-assignment result slot of a submitted call. The
// submitting caller reads it; the owning service writes it exactly once.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	val    any
	err    error
	cancel context.CancelFunc
}

// NewHandle builds a standalone result slot. Pool adapters use this for
// submissions that do not originate from a service queue.
func NewHandle() *Handle {
	return &Handle{
		done:   make(chan struct{}),
		cancel: func() {},
	}
}

// Resolve writes a success value. Later writes are ignored.
func (h *Handle) Resolve(val any) {
	h.once.Do(func() {
		h.val = val
		close(h.done)
	})
}

// Fail writes a terminal error. Later writes are ignored.
func (h *Handle) Fail(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Cancel aborts the call. A still-queued item resolves to ErrCancelled
// without ever reaching the backend; a dispatched item has its execution
// context cancelled and resolves to ErrCancelled unless a result landed
// first.
func (h *Handle) Cancel() {
	h.cancel()
	h.Fail(ErrCancelled)
}

// Done is closed once the result slot is written.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Completed reports whether the result slot has been written.
func (h *Handle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Await blocks until the result slot resolves or ctx ends. Layer deadlines on
// top of a call by passing a context.WithTimeout here.
func (h *Handle) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.val, h.err
	}
}
