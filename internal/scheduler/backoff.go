package scheduler

import "time"

const (
	// BaseDelay is the backoff unit; delay doubles each attempt.
	BaseDelay = time.Minute

	// MaxAttempts bounds the retry chain. The 6th failure dead-letters the
	// record; there is never a 7th attempt.
	MaxAttempts = 6

	// MaxAge dead-letters a record regardless of attempt count once this
	// much time has passed since its first dispatch.
	MaxAge = 24 * time.Hour
)

// Delay returns the exponential backoff after the given 0-indexed attempt:
// BaseDelay × 2^attempt, so attempts 0–5 wait 1, 2, 4, 8, 16 and 32
// minutes.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= MaxAttempts {
		attempt = MaxAttempts - 1
	}
	return BaseDelay << uint(attempt)
}
