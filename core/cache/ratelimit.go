package cache

import (
	"context"
	"strconv"
	"time"
)

// RateLimiter is a fixed-window counter stored in a Cache.
type RateLimiter struct {
	cache  Cache
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limit events per window for each subject.
func NewRateLimiter(c Cache, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{cache: c, limit: int64(limit), window: window, now: time.Now}
}

// Allow records an event for subject and reports whether it is within the
// limit. A non-positive limit disables limiting. Cache errors fail open.
func (r *RateLimiter) Allow(ctx context.Context, scope, subject string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	slot := r.now().UnixNano() / int64(r.window)
	key := PrefixRateLimit + scope + ":" + subject + ":" + strconv.FormatInt(slot, 10)
	n, err := r.cache.Incr(ctx, key, r.window)
	if err != nil {
		return true
	}
	return n <= r.limit
}
