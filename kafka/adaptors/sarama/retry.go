/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package sarama

import (
	"context"
	"time"
)

// retryWithBackoff runs fn until it succeeds, a non-retriable error is
// returned, or deadline elapses. Backoff starts at initial, doubles each
// attempt, and is capped at max. It is the Go shape of
// RetryUtils.executeWithMaxAttemptAndExponentialBackoff, ported because no
// retry/backoff library appears anywhere in the example corpus (see
// DESIGN.md).
func retryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	initial, max, deadline time.Duration,
	retriable func(error) bool,
	fn func() error,
) error {
	start := time.Now()
	backoff := initial
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retriable(lastErr) {
			return lastErr
		}
		if time.Since(start) >= deadline {
			return lastErr
		}
		if attempt == maxAttempts {
			return lastErr
		}

		sleep := backoff
		if remaining := deadline - time.Since(start); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > max {
			backoff = max
		}
	}
	return lastErr
}
