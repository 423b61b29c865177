package dispatch

import (
	"context"
	"time"
)

// Backend executes one unit of admitted work against the underlying provider,
// whether that is a remote model API, a blocking routine on a thread pool, or
// a handler hosted in a worker subprocess. Implementations signal retryable
// conditions by returning an error that satisfies IsTransient.
type Backend interface {
	Execute(ctx context.Context, payload any) (any, error)
}

// Queue provides FIFO enqueue/dequeue semantics for work items. Enqueue never
// blocks the producer; Dequeue suspends the single consumer until an item
// arrives, the context ends, or the queue is closed.
type Queue interface {
	Enqueue(item *Item) error
	Dequeue(ctx context.Context) (*Item, error)
	Len() int
	Close()
}

// Gate bounds cumulative admitted cost over a trailing time window. It is
// polled and recorded by exactly one admission loop; CurrentUsage may be read
// concurrently for observability.
type Gate interface {
	CanAdmit(cost float64) bool
	Record(cost float64)
	CurrentUsage() float64
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
