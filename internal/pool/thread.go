package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/dispatch"
)

// BlockingFunc is one unit of blocking work submitted to a ThreadPool.
type BlockingFunc func(ctx context.Context) (any, error)

type threadTask struct {
	ctx    context.Context
	fn     BlockingFunc
	handle *dispatch.Handle
}

// ThreadPool runs blocking callables on a fixed number of long-lived
// goroutines. When a worker is free it picks up the oldest pending unit.
type ThreadPool struct {
	size   int
	tasks  chan threadTask
	logger *zap.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewThreadPool builds a pool of size workers. Size values below one are
// clamped to one.
func NewThreadPool(size int, logger *zap.Logger) *ThreadPool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadPool{
		size:   size,
		tasks:  make(chan threadTask, 4*size),
		logger: logger,
	}
}

// Start launches the workers. Starting an already-started pool is an error.
func (p *ThreadPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return dispatch.Usagef("thread pool already started")
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

func (p *ThreadPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		if task.handle.Completed() {
			continue
		}
		if err := task.ctx.Err(); err != nil {
			task.handle.Fail(dispatch.ErrCancelled)
			continue
		}
		val, err := task.fn(task.ctx)
		if err != nil {
			task.handle.Fail(err)
			continue
		}
		task.handle.Resolve(val)
	}
	p.logger.Debug("thread pool worker exited", zap.Int("worker", id))
}

// Submit queues fn for execution and returns its result slot. It blocks only
// while the internal submission queue is full.
func (p *ThreadPool) Submit(ctx context.Context, fn BlockingFunc) (*dispatch.Handle, error) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil, dispatch.Usagef("thread pool is not running")
	}
	p.mu.Unlock()

	h := dispatch.NewHandle()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("thread pool submit: %w", ctx.Err())
	case p.tasks <- threadTask{ctx: ctx, fn: fn, handle: h}:
		return h, nil
	}
}

// Shutdown stops accepting work and waits for in-flight and queued units to
// finish, honoring the context deadline.
func (p *ThreadPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("thread pool shutdown: %w", ctx.Err())
	case <-done:
		return nil
	}
}
