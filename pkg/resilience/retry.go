package resilience

import (
	"context"
	"errors"
)

// RetryPolicy retries a side effect, such as an answer handoff, that may fail
// transiently.
type RetryPolicy struct {
	MaxRetries int
	Backoff    Backoff
	// Retryable reports whether err is worth another attempt. Nil retries
	// everything except cancellation.
	Retryable func(error) bool
}

func NewRetryPolicy(maxRetries int, b Backoff) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: b}
}

// Do runs fn until it succeeds, a non-retryable error occurs, retries run
// out, or ctx is done. The last error from fn is returned.
func (r RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	retryable := r.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	var err error
	for n := 0; ; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if n >= r.MaxRetries || !retryable(err) {
			return err
		}
		if werr := Wait(ctx, r.Backoff.Delay(n)); werr != nil {
			return werr
		}
	}
}
