package ai

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// rateLimiter implements a simple token bucket rate limiter.
type rateLimiter struct {
	stopCh     chan struct{}
	tokens     int
	capacity   int
	refillRate int
	mu         sync.Mutex
	closeOnce  sync.Once
}

// newRateLimiter creates a new rate limiter with the specified requests per minute.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	rl := &rateLimiter{
		tokens:     requestsPerMinute,
		capacity:   requestsPerMinute,
		refillRate: requestsPerMinute,
		stopCh:     make(chan struct{}),
	}

	go rl.refill()

	return rl
}

// wait blocks until a token is available or the context is canceled.
func (rl *rateLimiter) wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if rl.tryAcquire() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// tryAcquire attempts to acquire a token without blocking.
func (rl *rateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// refill periodically adds tokens to the bucket.
func (rl *rateLimiter) refill() {
	ticker := time.NewTicker(time.Minute / time.Duration(rl.refillRate))
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			if rl.tokens < rl.capacity {
				rl.tokens++
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) close() {
	rl.closeOnce.Do(func() { close(rl.stopCh) })
}

// RateLimitedService throttles calls to the wrapped service.
type RateLimitedService struct {
	next    Service
	limiter *rateLimiter
}

// NewRateLimitedService wraps next with a token bucket of requestsPerMinute.
func NewRateLimitedService(next Service, requestsPerMinute int) *RateLimitedService {
	return &RateLimitedService{next: next, limiter: newRateLimiter(requestsPerMinute)}
}

// Suggest waits for a token and forwards the request.
func (r *RateLimitedService) Suggest(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.wait(ctx); err != nil {
		return Response{}, err
	}
	return r.next.Suggest(ctx, req)
}

// Close stops the refill goroutine.
func (r *RateLimitedService) Close() {
	r.limiter.close()
}
