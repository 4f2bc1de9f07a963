package client

import (
	"math/rand"
	"time"
)

// Backoff maps a reconnect attempt (0 for the first retry) to the delay before it.
type Backoff func(attempt int) time.Duration

// Exponential doubles the delay from minDelay on every attempt, capped at maxDelay.
func Exponential(minDelay, maxDelay time.Duration) Backoff {
	if minDelay <= 0 {
		minDelay = defaultReconnectDelayMin
	}
	if maxDelay < minDelay {
		maxDelay = minDelay // ensure max is not less than min
	}
	return func(attempt int) time.Duration {
		d := minDelay
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= maxDelay {
				return maxDelay
			}
		}
		return d
	}
}

// Constant always waits d.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Jittered adds a random extra of up to frac of the base delay, spreading out
// retries from many clients. Jittered delays are not monotonic.
func Jittered(base Backoff, frac float64) Backoff {
	return func(attempt int) time.Duration {
		d := base(attempt)
		jitterRange := int64(float64(d) * frac)
		if jitterRange <= 0 {
			return d
		}
		return d + time.Duration(rand.Int63n(jitterRange))
	}
}
