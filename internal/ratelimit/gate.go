// Package ratelimit implements the sliding-window admission gate that bounds
// cumulative cost per unit time for a single service.
package ratelimit

import (
	"sync"
	"time"

	"github.com/calderhq/dispatch/internal/dispatch"
)

var _ dispatch.Gate = (*Gate)(nil)

type entry struct {
	at   time.Time
	cost float64
}

// Gate tracks admitted cost over a trailing window. The window slides: an
// entry stops counting exactly window after it was recorded, so admission
// cannot burst at fixed bucket boundaries. Only one admission loop records
// usage; the mutex exists because CurrentUsage is read by the observability
// surface.
type Gate struct {
	limit  float64
	window time.Duration
	clock  dispatch.Clock

	mu      sync.Mutex
	entries []entry
	total   float64
}

// NewGate builds a gate admitting at most limit cost per trailing window.
func NewGate(limit float64, window time.Duration, clock dispatch.Clock) *Gate {
	return &Gate{
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

// CanAdmit reports whether adding cost to the trailing-window usage would
// stay within the limit. A single cost larger than the limit is admitted
// only against an empty window, so oversized items delay rather than
// deadlock.
func (g *Gate) CanAdmit(cost float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict(g.clock.Now())
	if g.total == 0 {
		return true
	}
	return g.total+cost <= g.limit
}

// Record commits cost at the current time. Call it only once the item is
// actually admitted, not merely queried.
func (g *Gate) Record(cost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append(g.entries, entry{at: g.clock.Now(), cost: cost})
	g.total += cost
}

// CurrentUsage returns the running total over the trailing window.
func (g *Gate) CurrentUsage() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict(g.clock.Now())
	return g.total
}

// Limit returns the configured window limit.
func (g *Gate) Limit() float64 {
	return g.limit
}

// evict drops entries older than the window and subtracts them from the
// running total. Callers hold g.mu.
func (g *Gate) evict(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for ; i < len(g.entries); i++ {
		if g.entries[i].at.After(cutoff) {
			break
		}
		g.total -= g.entries[i].cost
	}
	if i > 0 {
		g.entries = append(g.entries[:0], g.entries[i:]...)
		if len(g.entries) == 0 {
			g.total = 0
		}
	}
}
