package providers

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

const maxJitterFraction = 0.1

// RetryDelayFunc returns the wait before retry number attempt (1-based) and
// whether the policy is exhausted. Providers may override it per error class.
type RetryDelayFunc func(policy models.RetryPolicy, attempt int, class ErrorClass) (time.Duration, bool)

// ComputeRetryDelay is the shared exponential backoff:
// min(initial*multiplier^(attempt-1) + jitter, maxDelay) with jitter up to 10% of the base.
func ComputeRetryDelay(policy models.RetryPolicy, attempt int) (time.Duration, bool) {
	return computeRetryDelay(policy, attempt, rand.Float64())
}

func computeRetryDelay(policy models.RetryPolicy, attempt int, jitterRand float64) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > policy.MaxRetries {
		return 0, true
	}

	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	base := float64(policy.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	delay := base + base*maxJitterFraction*jitterRand

	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		return policy.MaxDelay, false
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64), false
	}
	return time.Duration(delay), false
}

func defaultRetryDelay(policy models.RetryPolicy, attempt int, _ ErrorClass) (time.Duration, bool) {
	return ComputeRetryDelay(policy, attempt)
}
