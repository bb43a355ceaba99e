package llm

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds per-endpoint retries. The delay doubles from Base up
// to Max, with ±25% jitter so concurrent clients don't retry in lockstep.
type RetryPolicy struct {
	// Attempts is the call budget per endpoint, including the first call.
	Attempts int

	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the delay between retries.
	Max time.Duration
}

// DefaultRetryPolicy returns the retry defaults for agent calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Base:     2 * time.Second,
		Max:      30 * time.Second,
	}
}

// delay returns the wait after the given 1-based failed attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1))
	return d + jitter
}
