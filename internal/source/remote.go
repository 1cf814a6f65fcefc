package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Bucket is anything that can GET an object by name and report an HTTP
// status. A non-nil error means the request never produced a usable
// response (connection reset, DNS failure, truncated body) and is treated as
// retryable, unless it matches ErrRemoteRequest.
type Bucket interface {
	Name() string
	GetObject(ctx context.Context, name string) (body []byte, status int, err error)
}

// RemoteConfig contains configuration for a retrying remote source.
type RemoteConfig struct {
	Bucket  Bucket         // Underlying bucket (required)
	Policy  RetryPolicy    // Zero value means DefaultRetryPolicy
	Logger  zerolog.Logger // Structured logger (optional)
	OnRetry func()         // Called once per backoff (optional, metrics)

	// Test hooks. Nil means real sleeping and math/rand jitter.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64
}

// Remote loads chunks from a Bucket, retrying transient failures with
// jittered exponential backoff. Backoff sleeps block only the calling
// goroutine.
type Remote struct {
	bucket  Bucket
	policy  RetryPolicy
	logger  zerolog.Logger
	onRetry func()
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
}

// NewRemote creates a retrying source around config.Bucket.
func NewRemote(config RemoteConfig) *Remote {
	policy := config.Policy
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}

	sleep := config.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	jitter := config.Jitter
	if jitter == nil {
		jitter = uniformJitter
	}

	return &Remote{
		bucket:  config.Bucket,
		policy:  policy,
		logger:  config.Logger,
		onRetry: config.OnRetry,
		sleep:   sleep,
		jitter:  jitter,
	}
}

// String implements fmt.Stringer.
func (r *Remote) String() string {
	return "remote:" + r.bucket.Name()
}

// Load fetches object name. found is false on 404. Other 4xx responses
// except 429 fail immediately with a *RemoteStatusError; 429, 5xx and
// transport errors are retried up to policy.Limit times, after which a
// *RetryLimitError carrying the last failure is returned.
func (r *Remote) Load(ctx context.Context, name string) (data []byte, found bool, err error) {
	source := r.bucket.Name()

	for i := 0; i <= r.policy.Limit; i++ {
		body, status, gerr := r.bucket.GetObject(ctx, name)

		var failure error
		switch {
		case gerr != nil && errors.Is(gerr, ErrRemoteRequest):
			return nil, false, fmt.Errorf("fetch chunk %s from %s: %w", name, source, gerr)
		case gerr != nil:
			failure = gerr
		case status == http.StatusOK:
			return body, true, nil
		case status == http.StatusNotFound:
			return nil, false, nil
		case status < 500 && status != http.StatusTooManyRequests:
			return nil, false, &RemoteStatusError{Source: source, Name: name, Status: status, Body: truncateBody(body)}
		default:
			failure = &retryableStatusError{Status: status, Body: truncateBody(body)}
		}

		if i == r.policy.Limit {
			r.logger.Warn().
				Err(failure).
				Str("source", source).
				Str("name", name).
				Int("retry_limit", r.policy.Limit).
				Msg("reached load retry limit")
			return nil, false, &RetryLimitError{Source: source, Name: name, Attempts: i + 1, Last: failure}
		}

		backoff := r.policy.Backoff(i, r.jitter())
		r.logger.Info().
			Err(failure).
			Dur("backoff", backoff).
			Int("attempt", i+1).
			Str("source", source).
			Str("name", name).
			Msg("backing off after a failed GET")
		if r.onRetry != nil {
			r.onRetry()
		}

		if serr := r.sleep(ctx, backoff); serr != nil {
			return nil, false, fmt.Errorf("fetch chunk %s from %s: %w", name, source, serr)
		}
	}

	// Unreachable: the final iteration always returns.
	return nil, false, fmt.Errorf("fetch chunk %s from %s: retry loop exited", name, source)
}

// truncateBody keeps error bodies short enough for log lines.
func truncateBody(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
