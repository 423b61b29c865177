package ratelimit

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGateAdmitsWithinLimit(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	g := NewGate(10, time.Minute, clk)

	require.True(t, g.CanAdmit(4))
	g.Record(4)
	require.True(t, g.CanAdmit(6))
	g.Record(6)

	assert.Equal(t, 10.0, g.CurrentUsage())
	assert.False(t, g.CanAdmit(1), "usage at the limit must deny further cost")
}

func TestGateBoundaryIsInclusive(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	g := NewGate(10, time.Minute, clk)

	g.Record(7)
	assert.True(t, g.CanAdmit(3), "usage+cost equal to the limit is admissible")
	assert.False(t, g.CanAdmit(3.1))
}

func TestGateWindowSlides(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	g := NewGate(10, time.Minute, clk)

	g.Record(10)
	require.False(t, g.CanAdmit(1))

	// Just inside the window the entry still counts.
	clk.Advance(time.Minute - time.Millisecond)
	require.False(t, g.CanAdmit(1))
	require.Equal(t, 10.0, g.CurrentUsage())

	// One step past the window it stops counting entirely.
	clk.Advance(2 * time.Millisecond)
	require.True(t, g.CanAdmit(10))
	require.Equal(t, 0.0, g.CurrentUsage())
}

func TestGatePartialEviction(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	g := NewGate(100, time.Minute, clk)

	g.Record(30)
	clk.Advance(30 * time.Second)
	g.Record(40)
	clk.Advance(31 * time.Second) // first entry is now out of the window

	assert.Equal(t, 40.0, g.CurrentUsage())
	assert.True(t, g.CanAdmit(60))
	assert.False(t, g.CanAdmit(61))
}

func TestGateOversizedCostAgainstEmptyWindow(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	g := NewGate(10, time.Minute, clk)

	// An item larger than the whole limit is only admitted when nothing
	// else counts, so it delays instead of deadlocking.
	require.True(t, g.CanAdmit(25))
	g.Record(25)
	require.False(t, g.CanAdmit(1))

	clk.Advance(time.Minute + time.Second)
	require.True(t, g.CanAdmit(25))
}

func TestGateUsageMatchesWindowSum(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	const window = time.Minute
	g := NewGate(1e9, window, clk)

	rng := rand.New(rand.NewSource(42))

	type rec struct {
		at   time.Time
		cost float64
	}
	var history []rec

	for i := 0; i < 500; i++ {
		cost := float64(rng.Intn(100) + 1)
		g.Record(cost)
		history = append(history, rec{at: clk.Now(), cost: cost})
		clk.Advance(time.Duration(rng.Intn(5000)) * time.Millisecond)

		want := 0.0
		cutoff := clk.Now().Add(-window)
		for _, r := range history {
			if r.at.After(cutoff) {
				want += r.cost
			}
		}
		require.Equalf(t, want, g.CurrentUsage(), "step %d: trailing-window usage drifted", i)
	}
}
