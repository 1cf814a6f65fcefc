package source

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how a Remote backs off between failed GETs.
type RetryPolicy struct {
	Limit      int           // Retries after the first attempt (default 3)
	BaseWait   time.Duration // Delay before the first retry (default 50ms)
	Multiplier float64       // Growth per consecutive failure (default 10)
	JitterFrac float64       // Up to this fraction of the delay is added (default 1.0)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Limit:      3,
		BaseWait:   50 * time.Millisecond,
		Multiplier: 10.0,
		JitterFrac: 1.0,
	}
}

// Backoff returns the delay before retry number failures (0 for the first
// retry). jitter must be in [0, 1); it selects where in
// [1, 1+JitterFrac) the scale factor lands.
func (p RetryPolicy) Backoff(failures int, jitter float64) time.Duration {
	delay := float64(p.BaseWait) * math.Pow(p.Multiplier, float64(failures))
	scale := 1.0 + jitter*p.JitterFrac
	return time.Duration(delay * scale)
}

// Attempts returns the total number of GETs the policy allows.
func (p RetryPolicy) Attempts() int {
	return p.Limit + 1
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// uniformJitter draws from [0, 1).
func uniformJitter() float64 {
	return rand.Float64()
}
