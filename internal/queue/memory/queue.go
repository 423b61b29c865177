// Package memory provides the in-process work queue owned by a service.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/calderhq/dispatch/internal/dispatch"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("queue closed")

var _ dispatch.Queue = (*Queue)(nil)

// Queue is an unbounded FIFO queue of pending work items. Producers never
// block on Enqueue; the single consumer suspends in Dequeue until an item
// arrives. Arrival order is preserved.
type Queue struct {
	mu     sync.Mutex
	items  []*dispatch.Item
	wake   chan struct{}
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends the item in arrival order. It never blocks the caller.
func (q *Queue) Enqueue(item *dispatch.Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue: %w", ErrClosed)
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the oldest item, suspending until one arrives, the context
// ends, or the queue is closed while empty.
func (q *Queue) Dequeue(ctx context.Context) (*dispatch.Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, fmt.Errorf("dequeue: %w", ErrClosed)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.wake:
		}
	}
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns all pending items. The draining service fails
// their result slots so no call silently disappears.
func (q *Queue) Drain() []*dispatch.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Close marks the queue closed for shutdown. It is safe to call more than
// once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
