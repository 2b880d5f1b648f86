package queue

import "time"

// Backoff returns base*2^(attempt-1) capped at limit. attempt starts at 1.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d <= 0 || (limit > 0 && d >= limit) {
			return limit
		}
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
