package pipeline

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls the retry delay applied to a task after a
// retryable upstream failure.
//
// The computed delay is capped-exponential with additive jitter:
//
//	delay = min(MaxInterval, InitialInterval * 2^(attempt-1)) + jitter(0, Jitter)
//
// unless the upstream response carried a Retry-After value, in which case
// that value is used verbatim (see backoffCounter.next).
type BackoffConfig struct {
	MaxAttempts     uint32
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Jitter          time.Duration
}

type backoffCounter struct {
	BackoffConfig
}

// next computes the retry delay for the given attempt number. ok is false
// once attempt reaches MaxAttempts, signaling that the task should be
// dead-lettered instead of retried.
func (bc *backoffCounter) next(attempt uint32, retryAfter *time.Duration) (time.Duration, bool) {
	if bc.MaxAttempts > 0 && attempt >= bc.MaxAttempts {
		return 0, false
	}
	if retryAfter != nil {
		return *retryAfter, true
	}
	exp := float64(bc.InitialInterval) * math.Pow(2, float64(attempt-1))
	if exp > float64(bc.MaxInterval) {
		exp = float64(bc.MaxInterval)
	}
	delay := time.Duration(exp)
	if bc.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(bc.Jitter)))
	}
	return delay, true
}
