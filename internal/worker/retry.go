package worker

import (
	"math"
	"time"
)

// maxBackoff caps the delay between attempts.
const maxBackoff = 5 * time.Minute

// backoff returns the delay before the attempt that follows attempt:
// initial, 2*initial, 4*initial, ... capped at maxBackoff.
func backoff(initial time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(initial) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(delay)
}
