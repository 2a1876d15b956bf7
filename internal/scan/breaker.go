package scan

import (
	"sync/atomic"
)

// Breaker counts consecutive inference failures and trips into an open
// state once the threshold is reached. It does not self-heal on a timer:
// the scanner resets it only after an explicit health probe succeeds.
type Breaker struct {
	maxFailures int64
	failures    atomic.Int64
	open        atomic.Bool
}

// NewBreaker creates a breaker that trips after maxFailures consecutive
// inference failures
func NewBreaker(maxFailures int) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Breaker{maxFailures: int64(maxFailures)}
}

// RecordSuccess resets the consecutive failure counter
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
}

// RecordFailure increments the counter and returns true exactly when this
// failure crossed the threshold and tripped the breaker open
func (b *Breaker) RecordFailure() bool {
	failures := b.failures.Add(1)
	if failures >= b.maxFailures && b.open.CompareAndSwap(false, true) {
		return true
	}
	return false
}

// IsOpen reports whether the breaker has tripped
func (b *Breaker) IsOpen() bool {
	return b.open.Load()
}

// Reset closes the breaker after a successful external health probe
func (b *Breaker) Reset() {
	b.failures.Store(0)
	b.open.Store(false)
}

// Failures returns the current consecutive failure count
func (b *Breaker) Failures() int {
	return int(b.failures.Load())
}
