package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderhq/dispatch/internal/dispatch"
)

func TestThreadPoolExecutes(t *testing.T) {
	t.Parallel()
	p := NewThreadPool(2, nil)
	require.NoError(t, p.Start())
	defer func() { _ = p.Shutdown(context.Background()) }()

	h, err := p.Submit(context.Background(), func(context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)

	val, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestThreadPoolPropagatesErrors(t *testing.T) {
	t.Parallel()
	p := NewThreadPool(1, nil)
	require.NoError(t, p.Start())
	defer func() { _ = p.Shutdown(context.Background()) }()

	boom := errors.New("disk full")
	h, err := p.Submit(context.Background(), func(context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = h.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestThreadPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()
	const size = 2
	p := NewThreadPool(size, nil)
	require.NoError(t, p.Start())
	defer func() { _ = p.Shutdown(context.Background()) }()

	var current, peak atomic.Int32
	var handles []*dispatch.Handle
	for i := 0; i < 6; i++ {
		h, err := p.Submit(context.Background(), func(context.Context) (any, error) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Await(context.Background())
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int32(size))
}

func TestThreadPoolLifecycleErrors(t *testing.T) {
	t.Parallel()
	p := NewThreadPool(1, nil)

	_, err := p.Submit(context.Background(), func(context.Context) (any, error) { return nil, nil })
	var ue *dispatch.UsageError
	assert.ErrorAs(t, err, &ue, "submit before start")

	require.NoError(t, p.Start())
	assert.Error(t, p.Start(), "double start")

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()), "shutdown is idempotent")

	_, err = p.Submit(context.Background(), func(context.Context) (any, error) { return nil, nil })
	assert.ErrorAs(t, err, &ue, "submit after shutdown")
}

func TestThreadPoolShutdownWaitsForQueuedWork(t *testing.T) {
	t.Parallel()
	p := NewThreadPool(1, nil)
	require.NoError(t, p.Start())

	var ran atomic.Int32
	var handles []*dispatch.Handle
	for i := 0; i < 3; i++ {
		h, err := p.Submit(context.Background(), func(context.Context) (any, error) {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
			return nil, nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(3), ran.Load(), "queued units finish before shutdown returns")
	for _, h := range handles {
		assert.True(t, h.Completed())
	}
}

func TestThreadPoolSkipsCancelledTask(t *testing.T) {
	t.Parallel()
	p := NewThreadPool(1, nil)
	require.NoError(t, p.Start())
	defer func() { _ = p.Shutdown(context.Background()) }()

	// Occupy the only worker so the next submission stays queued.
	release := make(chan struct{})
	blocker, err := p.Submit(context.Background(), func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	h, err := p.Submit(ctx, func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	cancel()
	close(release)

	_, err = h.Await(context.Background())
	assert.ErrorIs(t, err, dispatch.ErrCancelled)
	assert.False(t, ran.Load(), "cancelled unit must not run")

	_, err = blocker.Await(context.Background())
	require.NoError(t, err)
}

func TestBlockingBackendRoundTrip(t *testing.T) {
	t.Parallel()
	p := NewThreadPool(1, nil)
	require.NoError(t, p.Start())
	defer func() { _ = p.Shutdown(context.Background()) }()

	backend := NewBlockingBackend(p, func(_ context.Context, payload any) (any, error) {
		return payload.(string) + "!", nil
	})

	val, err := backend.Execute(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, "done!", val)
}
