package ratelimit

import (
	"context"
	"errors"
	"net/http"
)

// TooManyRequests signals that a provider call was rejected with HTTP 429.
// Headers carries the provider's rate-limit response headers, which may
// include a reset hint.
type TooManyRequests struct {
	Headers http.Header
}

func (e *TooManyRequests) Error() string {
	return "provider returned 429 Too Many Requests"
}

// Policy bounds retries after a 429: back off via the limiter, then retry the
// call at most MaxAttempts-1 more times. With the default of two attempts a
// rejected call is retried exactly once; a second 429 propagates to the
// caller, which surfaces it as a source failure.
type Policy struct {
	MaxAttempts int
	Limiter     *Limiter
}

// NewPolicy returns the standard retry-once policy for the given limiter.
func NewPolicy(limiter *Limiter) *Policy {
	return &Policy{MaxAttempts: 2, Limiter: limiter}
}

// Do runs fn under the policy. Before each attempt it waits for window
// capacity; after a 429 it backs off per the provider's hint before the next
// attempt. Non-429 errors are returned as-is without retry.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := p.Limiter.WaitIfNeeded(ctx); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var tmr *TooManyRequests
		if !errors.As(lastErr, &tmr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.Limiter.Handle429(ctx, tmr.Headers); err != nil {
			return err
		}
	}
	return lastErr
}
