// Package service implements the long-lived worker at the heart of the
// dispatch runtime: it owns a FIFO work queue, an optional sliding-window
// rate gate, and an execution backend, and runs a single admission loop that
// admits queued items under the gate and dispatches them concurrently.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/clock/system"
	"github.com/calderhq/dispatch/internal/dispatch"
	"github.com/calderhq/dispatch/internal/metrics"
	"github.com/calderhq/dispatch/internal/queue/memory"
	"github.com/calderhq/dispatch/internal/ratelimit"
)

// State is the lifecycle state of a Service.
type State int32

// Service lifecycle states.
const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Resource is a worker pool or other helper whose lifecycle is bound to the
// service's own: started on service start, shut down during drain.
type Resource interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Config holds the externally supplied knobs for one Service.
type Config struct {
	// Name identifies the service in the registry, logs, and metrics.
	Name string
	// Backend executes admitted payloads.
	Backend dispatch.Backend
	// Resources are started with the service and shut down on drain,
	// typically the worker pool behind the backend.
	Resources []Resource
	// RateLimit bounds admitted cost per Window. Zero disables the gate.
	RateLimit float64
	// Window is the trailing rate window (default 1m).
	Window time.Duration
	// PollInterval is how often a blocked admission re-polls the gate
	// (default 50ms). Kept short so stop signals are observed promptly.
	PollInterval time.Duration
	// RetryCount is the total number of backend attempts for transient
	// failures (default 3).
	RetryCount int
	// RetryBaseDelay and RetryMaxDelay bound the jittered exponential
	// backoff between attempts (defaults 250ms and 5s).
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// DefaultCost is the admission cost of a call that sets none (default 1).
	DefaultCost float64

	Clock  dispatch.Clock
	Logger *zap.Logger
}

// Stats is a point-in-time snapshot of a service's usage counters.
type Stats struct {
	State      string  `json:"state"`
	Submitted  uint64  `json:"submitted"`
	Admitted   uint64  `json:"admitted"`
	Succeeded  uint64  `json:"succeeded"`
	Failed     uint64  `json:"failed"`
	Retried    uint64  `json:"retried"`
	Cancelled  uint64  `json:"cancelled"`
	QueueDepth int     `json:"queue_depth"`
	GateUsage  float64 `json:"gate_usage,omitempty"`
	GateLimit  float64 `json:"gate_limit,omitempty"`
}

// Service admits and executes work items from its own queue under its
// admission policy. Construct with New, start via a registry scope, and
// submit with Call. A Service must not be called while idle; doing so is a
// usage error surfaced synchronously.
type Service struct {
	cfg    Config
	name   string
	clock  dispatch.Clock
	logger *zap.Logger
	retry  retryPolicy

	state    atomic.Int32
	queue    *memory.Queue
	gate     *ratelimit.Gate
	loopStop context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup

	submitted atomic.Uint64
	admitted  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
	cancelled atomic.Uint64
}

// New validates cfg and constructs an idle Service.
func New(cfg Config) (*Service, error) {
	if cfg.Name == "" {
		return nil, dispatch.Usagef("service requires a name")
	}
	if cfg.Backend == nil {
		return nil, dispatch.Usagef("service %q requires a backend", cfg.Name)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.DefaultCost <= 0 {
		cfg.DefaultCost = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Service{
		cfg:    cfg,
		name:   cfg.Name,
		clock:  cfg.Clock,
		logger: cfg.Logger.With(zap.String("service", cfg.Name)),
		retry:  retryPolicy{baseDelay: cfg.RetryBaseDelay, maxDelay: cfg.RetryMaxDelay},
	}, nil
}

// Name returns the registry name of the service.
func (s *Service) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Start allocates the queue, gate, and bound resources, then launches the
// admission loop. It is normally invoked by a registry scope, not directly.
func (s *Service) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) &&
		!s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return dispatch.Usagef("service %q cannot start from state %q", s.name, s.State())
	}

	for i, res := range s.cfg.Resources {
		if err := res.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if shutErr := s.cfg.Resources[j].Shutdown(ctx); shutErr != nil {
					s.logger.Warn("resource rollback failed", zap.Error(shutErr))
				}
			}
			s.state.Store(int32(StateIdle))
			return fmt.Errorf("service %q: start resource: %w", s.name, err)
		}
	}

	s.queue = memory.NewQueue()
	s.gate = nil
	if s.cfg.RateLimit > 0 {
		s.gate = ratelimit.NewGate(s.cfg.RateLimit, s.cfg.Window, s.clock)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopStop = cancel
	s.loopDone = make(chan struct{})
	s.state.Store(int32(StateRunning))
	go s.admissionLoop(loopCtx)

	s.logger.Info("service started",
		zap.Float64("rate_limit", s.cfg.RateLimit),
		zap.Duration("window", s.cfg.Window),
	)
	return nil
}

// Stop drains the service: the admission loop halts immediately, items still
// queued resolve with a cancellation error, and items already dispatched are
// awaited before bound resources shut down. Stopping an idle service is a
// no-op.
func (s *Service) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return nil
	}

	s.queue.Close()
	s.loopStop()
	<-s.loopDone

	for _, item := range s.queue.Drain() {
		item.Handle().Fail(dispatch.ErrCancelled)
		s.cancelled.Add(1)
		metrics.ObserveCall(s.name, "cancelled", 0)
	}
	metrics.SetQueueDepth(s.name, 0)

	var firstErr error
	waitDone := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		firstErr = &dispatch.ShutdownError{Service: s.name, Err: fmt.Errorf("drain: %w", ctx.Err())}
	}

	for i := len(s.cfg.Resources) - 1; i >= 0; i-- {
		if err := s.cfg.Resources[i].Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = &dispatch.ShutdownError{Service: s.name, Err: err}
		}
	}

	s.state.Store(int32(StateStopped))
	s.logger.Info("service stopped")
	return firstErr
}

// CallOption adjusts one submission.
type CallOption func(*callOptions)

type callOptions struct {
	cost float64
}

// WithCost sets the admission cost of the call in the same unit as the
// service's rate limit (for model services, request-equivalent tokens).
func WithCost(cost float64) CallOption {
	return func(o *callOptions) {
		if cost > 0 {
			o.cost = cost
		}
	}
}

// Call enqueues payload and returns the handle whose resolution is the
// eventual result. The cost contributes to the rate-gate usage shared by all
// callers of this service. Calling a service that is not running is a usage
// error, reported immediately rather than queued.
func (s *Service) Call(ctx context.Context, payload any, opts ...CallOption) (*dispatch.Handle, error) {
	if s.State() != StateRunning {
		return nil, dispatch.Usagef("service %q is not running (state %q)", s.name, s.State())
	}
	o := callOptions{cost: s.cfg.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	item := dispatch.NewItem(ctx, payload, o.cost, s.clock.Now())
	if err := s.queue.Enqueue(item); err != nil {
		return nil, dispatch.Usagef("service %q is not running", s.name)
	}
	s.submitted.Add(1)
	metrics.SetQueueDepth(s.name, s.queue.Len())
	return item.Handle(), nil
}

// Do submits payload and blocks until its result resolves or ctx ends.
func (s *Service) Do(ctx context.Context, payload any, opts ...CallOption) (any, error) {
	h, err := s.Call(ctx, payload, opts...)
	if err != nil {
		return nil, err
	}
	return h.Await(ctx)
}

// Stats returns a snapshot of the usage counters.
func (s *Service) Stats() Stats {
	st := Stats{
		State:     s.State().String(),
		Submitted: s.submitted.Load(),
		Admitted:  s.admitted.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Retried:   s.retried.Load(),
		Cancelled: s.cancelled.Load(),
	}
	if q := s.queue; q != nil {
		st.QueueDepth = q.Len()
	}
	if g := s.gate; g != nil {
		st.GateUsage = g.CurrentUsage()
		st.GateLimit = g.Limit()
	}
	return st
}

// admissionLoop is the single consumer of the queue: wait for an item, hold
// it at the gate until its cost is admissible, then dispatch it without
// blocking on completion. Items behind a retrying item are not held back;
// FIFO applies to admission order only.
func (s *Service) admissionLoop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		item, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.SetQueueDepth(s.name, s.queue.Len())
		if item.Handle().Completed() {
			// Cancelled while queued; the backend is never invoked.
			continue
		}
		if !s.admit(ctx, item) {
			if ctx.Err() != nil {
				item.Handle().Fail(dispatch.ErrCancelled)
				s.cancelled.Add(1)
				return
			}
			continue
		}
		s.admitted.Add(1)
		s.inflight.Add(1)
		go s.execute(item)
	}
}

// admit blocks until the gate accepts the item's cost, polling at the
// configured interval. It returns false if the loop is stopping or the item
// was cancelled while waiting.
func (s *Service) admit(ctx context.Context, item *dispatch.Item) bool {
	if s.gate == nil {
		return true
	}
	waitStart := s.clock.Now()
	for !s.gate.CanAdmit(item.Cost) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.PollInterval):
		}
		if item.Handle().Completed() {
			return false
		}
	}
	s.gate.Record(item.Cost)
	metrics.SetGateUsage(s.name, s.gate.CurrentUsage())
	metrics.ObserveGateWait(s.name, s.clock.Now().Sub(waitStart))
	return true
}

// execute runs one admitted item to terminal resolution, retrying transient
// backend failures with backoff.
func (s *Service) execute(item *dispatch.Item) {
	defer s.inflight.Done()
	metrics.IncInflight(s.name)
	defer metrics.DecInflight(s.name)

	start := s.clock.Now()
	val, attempts, err := s.runWithRetry(item)
	elapsed := s.clock.Now().Sub(start)

	switch {
	case err == nil:
		item.Handle().Resolve(val)
		s.succeeded.Add(1)
		metrics.ObserveCall(s.name, "ok", elapsed)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, dispatch.ErrCancelled):
		item.Handle().Fail(dispatch.ErrCancelled)
		s.cancelled.Add(1)
		metrics.ObserveCall(s.name, "cancelled", elapsed)
	default:
		item.Handle().Fail(&dispatch.FailedCallError{Service: s.name, Attempts: attempts, Err: err})
		s.failed.Add(1)
		metrics.ObserveCall(s.name, "failed", elapsed)
		s.logger.Warn("call failed",
			zap.String("item_id", item.ID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
}

func (s *Service) runWithRetry(item *dispatch.Item) (any, int, error) {
	ctx := item.Context()
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryCount; attempt++ {
		val, err := s.cfg.Backend.Execute(ctx, item.Payload)
		if err == nil {
			return val, attempt, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, ctxErr
		}
		if !dispatch.IsTransient(err) {
			return nil, attempt, err
		}
		if attempt == s.cfg.RetryCount {
			return nil, attempt, lastErr
		}
		s.retried.Add(1)
		metrics.ObserveRetry(s.name)
		s.logger.Debug("retrying transient failure",
			zap.String("item_id", item.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(s.retry.backoff(attempt)):
		}
	}
	return nil, s.cfg.RetryCount, lastErr
}
