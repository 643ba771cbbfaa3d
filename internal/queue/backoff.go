// Package queue drains the durable work queues: it claims batches of items,
// runs them on a bounded worker pool, and converts per-item failures into
// scheduled retries with backoff.
package queue

import (
	"math/rand"
	"time"
)

// retrySchedule staggers requeue delays after successive failures. Attempts
// past the end of the schedule reuse the last entry.
var retrySchedule = []time.Duration{
	400 * time.Millisecond,
	1200 * time.Millisecond,
	2500 * time.Millisecond,
}

// Backoff returns the delay before retry number attempt. Attempts are
// 1-based: the first failure gets attempt 1. Jitter of up to a third of the
// base delay spreads out retries from a failed batch.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(retrySchedule) {
		idx = len(retrySchedule) - 1
	}
	base := retrySchedule[idx]
	return base + time.Duration(rand.Int63n(int64(base)/3+1))
}

// NextRetry converts a failure count into the absolute time the item becomes
// claimable again.
func NextRetry(now time.Time, attempt int) time.Time {
	return now.Add(Backoff(attempt))
}
