package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestAllow verifies that Allow() enforces the burst and refills.
func TestAllow(t *testing.T) {
	// 10 req/s, burst of 10
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow() {
		t.Fatal("request should be rate-limited after burst exhausted")
	}

	// 100ms for 10 req/s = 1 token
	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("request should be allowed after token replenishment")
	}
}

// TestWait verifies that Wait() blocks until a token is available.
func TestWait(t *testing.T) {
	limiter := New(10, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first request should succeed: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("second request should succeed after waiting: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Fatalf("wait time %v outside expected range 50ms-200ms", elapsed)
	}
}

// TestWaitContextCancellation verifies that Wait() gives up when ctx ends.
func TestWaitContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	if !limiter.Allow() {
		t.Fatal("first request should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() should return error when context is cancelled")
	}
}

// TestTokens verifies that Tokens() tracks consumption.
func TestTokens(t *testing.T) {
	limiter := New(10, 10)

	initial := limiter.Tokens()
	if initial < 9 || initial > 10 {
		t.Fatalf("initial tokens %f outside expected range 9-10", initial)
	}

	for i := 0; i < 5; i++ {
		limiter.Allow()
	}

	remaining := limiter.Tokens()
	if remaining < 4 || remaining > 6 {
		t.Fatalf("remaining tokens %f outside expected range 4-6", remaining)
	}
}

// TestUnlimitedRate verifies that a zero rate never limits.
func TestUnlimitedRate(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 1000; i++ {
		if !limiter.Allow() {
			t.Fatalf("unlimited limiter should allow request %d", i)
		}
	}
}

// TestKeyed verifies that each client gets its own bucket.
func TestKeyed(t *testing.T) {
	k := NewKeyed(1, 2, 16, time.Minute)

	for i := 0; i < 2; i++ {
		if !k.Allow("alpha") {
			t.Fatalf("alpha request %d should be allowed", i)
		}
	}
	if k.Allow("alpha") {
		t.Fatal("alpha should be limited after its burst")
	}
	if !k.Allow("beta") {
		t.Fatal("beta has its own bucket and should be allowed")
	}
	if k.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", k.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := k.Wait(ctx, "alpha"); err == nil {
		t.Fatal("Wait() on an empty bucket should fail before the deadline")
	}
}

// TestKeyedEviction verifies that the least recently used bucket is dropped.
func TestKeyedEviction(t *testing.T) {
	k := NewKeyed(1, 1, 2, time.Minute)

	k.Allow("alpha")
	k.Allow("beta")
	k.Allow("gamma")

	if k.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", k.Len())
	}
	if !k.Allow("alpha") {
		t.Fatal("alpha was evicted and should start with a full bucket")
	}
}

// TestKeyedDisabled verifies that a zero rate keeps no state.
func TestKeyedDisabled(t *testing.T) {
	var nilKeyed *Keyed
	if !nilKeyed.Allow("alpha") {
		t.Fatal("nil Keyed should allow everything")
	}
	if err := nilKeyed.Wait(context.Background(), "alpha"); err != nil {
		t.Fatalf("nil Keyed Wait() = %v", err)
	}

	k := NewKeyed(0, 0, 16, time.Minute)
	for i := 0; i < 100; i++ {
		if !k.Allow("alpha") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if k.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", k.Len())
	}
}

// BenchmarkAllow measures the performance of the Allow() fast path.
func BenchmarkAllow(b *testing.B) {
	limiter := New(1_000_000, 1_000_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}

// BenchmarkKeyedAllowParallel measures concurrent per-client lookups.
func BenchmarkKeyedAllowParallel(b *testing.B) {
	k := NewKeyed(1_000_000, 1_000_000, 1024, time.Minute)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k.Allow("client")
		}
	})
}
