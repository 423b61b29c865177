package service

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// retryPolicy computes jittered exponential backoff between attempts.
type retryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// backoff returns the wait duration before the next attempt. attempt is
// 1-based.
func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
