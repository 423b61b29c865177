package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/dispatch"
)

const procStopGrace = 2 * time.Second

type procTask struct {
	ctx    context.Context
	task   wireTask
	handle *dispatch.Handle
}

// ProcessPool runs CPU-bound work in a fixed set of long-lived worker
// subprocesses speaking the JSON line protocol over stdin/stdout. Submitted
// payloads and their results must be JSON-transferable. A worker whose
// subprocess dies or whose current task is cancelled respawns the subprocess
// before taking the next unit.
type ProcessPool struct {
	size   int
	argv   []string
	tasks  chan procTask
	logger *zap.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewProcessPool builds a pool of size worker subprocesses spawned from argv
// (command plus arguments, typically this binary's hidden pool-worker
// subcommand).
func NewProcessPool(size int, argv []string, logger *zap.Logger) *ProcessPool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessPool{
		size:   size,
		argv:   append([]string(nil), argv...),
		tasks:  make(chan procTask, 4*size),
		logger: logger,
	}
}

// Start launches the worker goroutines. Subprocesses are spawned lazily on
// first submission so an idle pool costs nothing.
func (p *ProcessPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.argv) == 0 {
		return dispatch.Usagef("process pool requires a worker command")
	}
	if p.started {
		return dispatch.Usagef("process pool already started")
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Submit ships one task of the given kind to a worker subprocess and returns
// its result slot.
func (p *ProcessPool) Submit(ctx context.Context, kind string, payload any) (*dispatch.Handle, error) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil, dispatch.Usagef("process pool is not running")
	}
	p.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("process pool submit: marshal payload: %w", err)
	}
	h := dispatch.NewHandle()
	task := procTask{
		ctx:    ctx,
		task:   wireTask{ID: uuid.NewString(), Kind: kind, Payload: raw},
		handle: h,
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("process pool submit: %w", ctx.Err())
	case p.tasks <- task:
		return h, nil
	}
}

// Shutdown stops accepting work, lets in-flight tasks finish, and reaps the
// worker subprocesses, honoring the context deadline.
func (p *ProcessPool) Shutdown(ctx context.Context) error {
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
		return fmt.Errorf("process pool shutdown: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *ProcessPool) worker(id int) {
	defer p.wg.Done()
	var proc *workerProc
	defer func() {
		if proc != nil {
			proc.stop()
		}
	}()

	for task := range p.tasks {
		if task.handle.Completed() {
			continue
		}
		if task.ctx.Err() != nil {
			task.handle.Fail(dispatch.ErrCancelled)
			continue
		}
		if proc == nil {
			spawned, err := p.spawn()
			if err != nil {
				p.logger.Error("spawn pool worker failed", zap.Int("worker", id), zap.Error(err))
				task.handle.Fail(fmt.Errorf("spawn pool worker: %w", err))
				continue
			}
			proc = spawned
		}

		res, err := proc.roundTrip(task)
		if err != nil {
			// Either the subprocess broke or the task was cancelled
			// mid-flight. The subprocess cannot be told to abort one
			// task, so it is replaced.
			proc.stop()
			proc = nil
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				task.handle.Fail(dispatch.ErrCancelled)
			} else {
				p.logger.Warn("pool worker subprocess failed", zap.Int("worker", id), zap.Error(err))
				task.handle.Fail(dispatch.Transient(err))
			}
			continue
		}
		resolveWireResult(task.handle, res)
	}
}

func resolveWireResult(h *dispatch.Handle, res wireResult) {
	if res.Error != "" {
		err := errors.New(res.Error)
		if res.Transient {
			err = dispatch.Transient(err)
		}
		h.Fail(err)
		return
	}
	var val any
	if len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, &val); err != nil {
			h.Fail(fmt.Errorf("unmarshal pool result: %w", err))
			return
		}
	}
	h.Resolve(val)
}

// workerProc owns one worker subprocess and its stdin/stdout pipes.
type workerProc struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *json.Encoder
	results chan wireResult
	errs    chan error
}

func (p *ProcessPool) spawn() (*workerProc, error) {
	cmd := exec.Command(p.argv[0], p.argv[1:]...) // #nosec G204 -- argv is operator configuration
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	proc := &workerProc{
		cmd:     cmd,
		stdin:   stdin,
		enc:     json.NewEncoder(stdin),
		// Buffered so an orphaned result from a cancelled round trip
		// cannot wedge the read loop before it observes EOF.
		results: make(chan wireResult, 1),
		errs:    make(chan error, 1),
	}
	go proc.readLoop(stdout)
	return proc, nil
}

func (wp *workerProc) readLoop(stdout io.Reader) {
	dec := json.NewDecoder(stdout)
	for {
		var res wireResult
		if err := dec.Decode(&res); err != nil {
			wp.errs <- fmt.Errorf("read worker result: %w", err)
			return
		}
		wp.results <- res
	}
}

// roundTrip writes one task and waits for its result, the process failing, or
// the task context ending.
func (wp *workerProc) roundTrip(task procTask) (wireResult, error) {
	if err := wp.enc.Encode(task.task); err != nil {
		return wireResult{}, fmt.Errorf("write worker task: %w", err)
	}
	select {
	case res := <-wp.results:
		if res.ID != task.task.ID {
			return wireResult{}, fmt.Errorf("worker result id mismatch: got %q want %q", res.ID, task.task.ID)
		}
		return res, nil
	case err := <-wp.errs:
		return wireResult{}, err
	case <-task.ctx.Done():
		return wireResult{}, task.ctx.Err()
	}
}

// stop closes stdin so the subprocess exits at EOF, killing it after a short
// grace period.
func (wp *workerProc) stop() {
	_ = wp.stdin.Close()
	done := make(chan struct{})
	go func() {
		_ = wp.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(procStopGrace):
		_ = wp.cmd.Process.Kill()
		<-done
	}
}
