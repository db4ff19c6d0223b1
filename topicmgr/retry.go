package topicmgr

import "time"

// retryWithBackoff is the Manager-local copy of the exponential-backoff
// loop also used by kafka/adaptors/sarama's admin (RetryUtils-shaped);
// kept unexported and duplicated per package rather than factored out,
// since each copy is a handful of lines (the sarama copy also takes a
// context) and no shared package would otherwise exist between them.
func retryWithBackoff(
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
		time.Sleep(sleep)

		backoff *= 2
		if backoff > max {
			backoff = max
		}
	}
	return lastErr
}
