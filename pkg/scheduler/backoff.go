package scheduler

import "time"

// BackoffPolicy computes the delay before a retry, parameterized by attempt
// count. It is the single retry/delay policy in the core; ad hoc sleep loops
// do not belong anywhere else.
type BackoffPolicy struct {
	// Base is the delay after the first failure. Zero means one minute.
	Base time.Duration

	// Max caps the computed delay. Zero means one hour.
	Max time.Duration
}

// DefaultBackoffPolicy returns the standard policy: one minute doubling per
// attempt, capped at one hour.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: time.Minute, Max: time.Hour}
}

// Delay returns the wait before retry number attempt (1-based).
// Formula: Base * 2^(attempt-1), capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Minute
	}
	max := p.Max
	if max <= 0 {
		max = time.Hour
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
