package router

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 30 * time.Second
)

// fullJitterBackoff returns a random duration in [0, min(cap, base*2^attempt)],
// the "full jitter" strategy from AWS's retry guidance, used between
// retries of the same deployment.
func fullJitterBackoff(attempt int) time.Duration {
	if attempt > 8 { // 100ms*2^9 already exceeds the 30s cap; clamp before shifting
		attempt = 9
	}
	exp := backoffBase << uint(attempt)
	if exp > backoffCap {
		exp = backoffCap
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}
