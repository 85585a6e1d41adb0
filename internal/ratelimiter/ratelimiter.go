package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// unlimited stands in for rate.Inf, which does not refill a zero burst.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket.
//
// Tokens are added at requestsPerSecond up to burst. Each call consumes one
// token. All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter. requestsPerSecond 0 disables limiting.
//
// Example:
//
//	// Allow 1000 req/s sustained, 2000 req/s burst
//	limiter := New(1000, 2000)
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// ============================================================================
// Per-Client Limiting
// ============================================================================

// Keyed keeps one bucket per client name. A bucket lives for ttl after it is
// created, and the least recently used one is dropped once maxClients
// buckets exist. A client whose bucket was dropped starts again full.
type Keyed struct {
	rps   uint
	burst uint

	mu      sync.Mutex
	buckets *expirable.LRU[string, *RateLimiter]
}

// NewKeyed creates per-client limiters. requestsPerSecond 0 disables
// limiting and Keyed then keeps no state.
func NewKeyed(requestsPerSecond, burst uint, maxClients int, ttl time.Duration) *Keyed {
	return &Keyed{
		rps:     requestsPerSecond,
		burst:   burst,
		buckets: expirable.NewLRU[string, *RateLimiter](maxClients, nil, ttl),
	}
}

// Wait blocks until client may issue a call or ctx ends.
func (k *Keyed) Wait(ctx context.Context, client string) error {
	if k == nil || k.rps == 0 {
		return nil
	}
	return k.bucket(client).Wait(ctx)
}

// Allow reports whether client may issue a call now.
func (k *Keyed) Allow(client string) bool {
	if k == nil || k.rps == 0 {
		return true
	}
	return k.bucket(client).Allow()
}

// Len returns the number of clients with a bucket.
func (k *Keyed) Len() int {
	return k.buckets.Len()
}

func (k *Keyed) bucket(client string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	if r, ok := k.buckets.Get(client); ok {
		return r
	}
	r := New(k.rps, k.burst)
	k.buckets.Add(client, r)
	return r
}
