package worker

import (
	"math"
	"time"
)

// RetryPolicy defines the queue's backoff window and abandonment ceiling.
// This governs re-attempts across drain cycles; the transport's own fixed
// retry delay is separate and transparent to the queue.
type RetryPolicy struct {
	// MaxAttempts is the retry ceiling: an operation that has failed this
	// many times is abandoned.
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the backoff window after a given attempt (1-based),
// growing exponentially with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
