package system

import (
	"testing"
	"time"
)

func TestNowIsUTC(t *testing.T) {
	c := New()
	now := c.Now()
	if now.Location() != time.UTC {
		t.Fatalf("Now() location = %v, want UTC", now.Location())
	}
	if d := time.Since(now); d < 0 || d > time.Second {
		t.Fatalf("Now() drifted from wall clock by %v", d)
	}
}
