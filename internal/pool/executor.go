package pool

import (
	"context"

	"github.com/calderhq/dispatch/internal/dispatch"
)

var (
	_ dispatch.Backend = (*BlockingBackend)(nil)
	_ dispatch.Backend = (*SubprocessBackend)(nil)
)

// BlockingBackend runs each payload on a ThreadPool via fn, adapting the pool
// to the dispatch.Backend contract for I/O-bound blocking work such as file
// moves.
type BlockingBackend struct {
	pool *ThreadPool
	fn   func(ctx context.Context, payload any) (any, error)
}

// NewBlockingBackend wires fn to run on tp.
func NewBlockingBackend(tp *ThreadPool, fn func(ctx context.Context, payload any) (any, error)) *BlockingBackend {
	return &BlockingBackend{pool: tp, fn: fn}
}

// Execute submits the payload to the thread pool and awaits the result.
func (b *BlockingBackend) Execute(ctx context.Context, payload any) (any, error) {
	h, err := b.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		return b.fn(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	return h.Await(ctx)
}

// SubprocessBackend ships each payload to a ProcessPool under a fixed task
// kind, adapting the pool to the dispatch.Backend contract for CPU-bound
// work. Payloads must be JSON-serializable.
type SubprocessBackend struct {
	pool *ProcessPool
	kind string
}

// NewSubprocessBackend wires task kind to run on pp.
func NewSubprocessBackend(pp *ProcessPool, kind string) *SubprocessBackend {
	return &SubprocessBackend{pool: pp, kind: kind}
}

// Execute submits the payload to the process pool and awaits the result.
func (b *SubprocessBackend) Execute(ctx context.Context, payload any) (any, error) {
	h, err := b.pool.Submit(ctx, b.kind, payload)
	if err != nil {
		return nil, err
	}
	return h.Await(ctx)
}
