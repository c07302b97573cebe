package worker

import (
	"time"
)

// BackoffDelay returns the exponential backoff delay for a retry attempt:
// min * 2^(attempt-1), capped at max.
func BackoffDelay(attempt int, min, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return max
	}
	d := min << uint(attempt-1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
