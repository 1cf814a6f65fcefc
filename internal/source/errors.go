package source

import (
	"errors"
	"fmt"
)

// Source error types.
var (
	ErrConfiguration      = errors.New("invalid source configuration")
	ErrLocalIO            = errors.New("local cache read failed")
	ErrRemoteRequest      = errors.New("remote request failed")
	ErrRetryLimitExceeded = errors.New("reached load retry limit")
)

// RemoteStatusError is a non-retryable HTTP status returned by a remote bucket.
type RemoteStatusError struct {
	Source string
	Name   string
	Status int
	Body   string
}

func (e *RemoteStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fetch chunk %s from %s: status %d", e.Name, e.Source, e.Status)
	}
	return fmt.Sprintf("fetch chunk %s from %s: status %d: %s", e.Name, e.Source, e.Status, e.Body)
}

// Is makes errors.Is(err, ErrRemoteRequest) hold.
func (e *RemoteStatusError) Is(target error) bool {
	return target == ErrRemoteRequest
}

// RetryLimitError is returned once a remote GET has failed with retryable
// errors on every allowed attempt. Last is the final attempt's failure.
type RetryLimitError struct {
	Source   string
	Name     string
	Attempts int
	Last     error
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("fetch chunk %s from %s: gave up after %d attempts: %v", e.Name, e.Source, e.Attempts, e.Last)
}

// Unwrap returns the last underlying failure.
func (e *RetryLimitError) Unwrap() error {
	return e.Last
}

// Is makes errors.Is(err, ErrRetryLimitExceeded) hold.
func (e *RetryLimitError) Is(target error) bool {
	return target == ErrRetryLimitExceeded
}

// retryableStatusError is a 429 or 5xx response; it only escapes wrapped in
// a RetryLimitError.
type retryableStatusError struct {
	Status int
	Body   string
}

func (e *retryableStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}
