package rpc

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	l := NewRateLimiter(10, 5)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx, "p1"); err != nil {
			t.Fatalf("Acquire() %d error = %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 5 took %v, expected immediate", elapsed)
	}
}

func TestRateLimiterBlocksWhenExhausted(t *testing.T) {
	l := NewRateLimiter(1, 1)
	ctx := context.Background()

	if err := l.Acquire(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Acquire(cancelled, "p1"); err == nil {
		t.Error("Acquire() with exhausted bucket and cancelled context should fail")
	}
}

func TestRateLimiterPerProviderBuckets(t *testing.T) {
	l := NewRateLimiter(1, 1)
	ctx := context.Background()

	if err := l.Acquire(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	// p2 has its own bucket; p1's spent token must not affect it.
	start := time.Now()
	if err := l.Acquire(ctx, "p2"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("independent bucket blocked for %v", elapsed)
	}
}

func TestRateLimiterConfigure(t *testing.T) {
	l := NewRateLimiter(1, 1)
	l.Configure("fast", 1000, 100)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Acquire(ctx, "fast"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("configured burst took %v", elapsed)
	}
}
