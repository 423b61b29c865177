// Package registry manages the scoped lifecycle of a set of services: start
// in declared order, register each as callable by name, and on exit stop in
// reverse order, giving every started service a stop attempt.
package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/dispatch"
	"github.com/calderhq/dispatch/internal/service"
)

// Registry tracks running services and exposes their call entry points by
// name. Start and Stop are not expected to run concurrently with each other
// for the same Registry.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	byName  map[string]*service.Service
	started []*service.Service
}

// New constructs an empty Registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger,
		byName: make(map[string]*service.Service),
	}
}

// Start starts each service in order and registers it by name. If one fails
// to start, services started earlier in this call are rolled back in reverse
// order before the error is returned.
func (r *Registry) Start(ctx context.Context, svcs ...*service.Service) error {
	if len(svcs) == 0 {
		return dispatch.Usagef("registry requires at least one service to start")
	}
	for _, svc := range svcs {
		r.mu.Lock()
		_, taken := r.byName[svc.Name()]
		r.mu.Unlock()

		var err error
		if taken {
			err = dispatch.Usagef("service %q already registered", svc.Name())
		} else {
			r.logger.Debug("starting service", zap.String("service", svc.Name()))
			err = svc.Start(ctx)
		}
		if err != nil {
			r.rollback(ctx)
			return err
		}

		r.mu.Lock()
		r.byName[svc.Name()] = svc
		r.started = append(r.started, svc)
		r.mu.Unlock()
	}
	return nil
}

// Stop stops started services in reverse start order and de-registers them.
// Every started service receives a stop attempt even when an earlier one
// fails; the first error is returned. Stopping an empty or already-stopped
// registry is a no-op.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	r.started = nil
	r.byName = make(map[string]*service.Service)
	r.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		r.logger.Debug("stopping service", zap.String("service", svc.Name()))
		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("service stop failed", zap.String("service", svc.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// rollback stops everything started so far, swallowing stop errors in favor
// of the start error the caller is about to return.
func (r *Registry) rollback(ctx context.Context) {
	if err := r.Stop(ctx); err != nil {
		r.logger.Warn("rollback stop failed", zap.Error(err))
	}
}

// Lookup returns the running service registered under name.
func (r *Registry) Lookup(name string) (*service.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.byName[name]
	if !ok {
		return nil, dispatch.Usagef("no running service registered as %q", name)
	}
	return svc, nil
}

// Call submits payload to the named service. It is the registry-level
// equivalent of Service.Call for call sites holding only a name.
func (r *Registry) Call(ctx context.Context, name string, payload any, opts ...service.CallOption) (*dispatch.Handle, error) {
	svc, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return svc.Call(ctx, payload, opts...)
}

// Services returns the running services in start order.
func (r *Registry) Services() []*service.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*service.Service(nil), r.started...)
}

// Run is the scoped form: start svcs, invoke fn, and always stop the scope.
// The first unrecovered error wins; an error from fn takes precedence over a
// shutdown error.
func (r *Registry) Run(ctx context.Context, fn func(ctx context.Context) error, svcs ...*service.Service) error {
	if err := r.Start(ctx, svcs...); err != nil {
		return err
	}
	runErr := fn(ctx)
	stopErr := r.Stop(ctx)
	if runErr != nil {
		return runErr
	}
	return stopErr
}
