package infra

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket refilled one token per refillRate.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateLimiter allows bursts of maxTokens and one more request per
// refillRate after that. A non-positive refillRate never limits.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	limit := rate.Inf
	if refillRate > 0 {
		limit = rate.Every(refillRate)
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, maxTokens),
		now:     time.Now,
	}
}

// PerSecond is NewRateLimiter for n requests per second with a burst of n.
// n <= 0 never limits.
func PerSecond(n int) *RateLimiter {
	if n <= 0 {
		return NewRateLimiter(1, 0)
	}
	return NewRateLimiter(n, time.Second/time.Duration(n))
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.AllowN(rl.now(), 1)
}
