package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to the review tool with a token bucket
type RateLimiter struct {
	limiter           *rate.Limiter
	requestsPerMinute int
}

// NewRateLimiter allows requestsPerMinute sustained calls with the given burst.
// A non-positive rate returns nil, which never limits.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter:           rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst),
		requestsPerMinute: requestsPerMinute,
	}
}

// Wait blocks until a call may proceed. It fails at once when the wait
// would outlast ctx's deadline.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit of %d requests per minute: %w", r.requestsPerMinute, err)
	}
	return nil
}
