package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/calderhq/dispatch/internal/dispatch"
)

func newItem(t *testing.T, payload any) *dispatch.Item {
	t.Helper()
	return dispatch.NewItem(context.Background(), payload, 1, time.Now())
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(newItem(t, i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if got := q.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}

	for i := 0; i < 5; i++ {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if item.Payload != i {
			t.Fatalf("dequeue %d: payload = %v, want %d", i, item.Payload, i)
		}
	}
}

func TestQueueEnqueueNeverBlocks(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if err := q.Enqueue(newItem(t, i)); err != nil {
				t.Errorf("enqueue %d: %v", i, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked without a consumer")
	}
	if got := q.Len(); got != 1000 {
		t.Fatalf("Len() = %d, want 1000", got)
	}
}

func TestQueueDequeueWaitsForItem(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(newItem(t, "late"))
	}()

	item, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if item.Payload != "late" {
		t.Fatalf("payload = %v, want %q", item.Payload, "late")
	}
}

func TestQueueDequeueContextCancelled(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestQueueCloseWakesConsumer(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by Close")
	}
}

func TestQueuePendingItemsSurviveClose(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	if err := q.Enqueue(newItem(t, "kept")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if err := q.Enqueue(newItem(t, "rejected")); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after close: err = %v, want ErrClosed", err)
	}

	item, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue pending after close: %v", err)
	}
	if item.Payload != "kept" {
		t.Fatalf("payload = %v, want %q", item.Payload, "kept")
	}

	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("dequeue on drained closed queue: err = %v, want ErrClosed", err)
	}
}

func TestQueueDrain(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(newItem(t, fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	items := q.Drain()
	if len(items) != 3 {
		t.Fatalf("Drain() returned %d items, want 3", len(items))
	}
	for i, item := range items {
		want := fmt.Sprintf("item-%d", i)
		if item.Payload != want {
			t.Fatalf("drained[%d] = %v, want %q", i, item.Payload, want)
		}
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("Len() after drain = %d, want 0", got)
	}
}

func TestQueueCloseIdempotent(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	q.Close()
	q.Close()
}
