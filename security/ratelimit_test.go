package security

import (
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, rps float64, burst, maxEntries int) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: rps,
		Burst:             burst,
		MaxEntries:        maxEntries,
		SweepInterval:     -1,
	})
	t.Cleanup(rl.Stop)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.SetClock(func() time.Time { return now })
	return rl, &now
}

func TestRateLimiter_Burst(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 3, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst should be limited")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, now := newTestLimiter(t, 1, 1, 0)

	if !rl.Allow("ip") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("ip") {
		t.Fatal("second request should be limited")
	}
	*now = now.Add(time.Second)
	if !rl.Allow("ip") {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiter_IndependentAddresses(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 1, 0)

	if !rl.Allow("a") || !rl.Allow("b") {
		t.Fatal("each address has its own bucket")
	}
	if rl.Allow("a") {
		t.Error("a should be limited")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 1, 2)

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a is now most recent
	rl.Allow("c") // evicts b

	if got := rl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	// b starts with a fresh bucket after eviction
	if !rl.Allow("b") {
		t.Error("evicted address should get a fresh bucket")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl, now := newTestLimiter(t, 1, 1, 0)

	rl.Allow("old")
	*now = now.Add(20 * time.Minute)
	rl.Allow("new")
	*now = now.Add(15 * time.Minute)

	if removed := rl.Sweep(30 * time.Minute); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if rl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rl.Len())
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1000, Burst: 1000, SweepInterval: -1})
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rl.Allow(string(rune('a' + i)))
			}
		}(i)
	}
	wg.Wait()

	if rl.Len() != 20 {
		t.Errorf("Len() = %d, want 20", rl.Len())
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1})
	rl.Stop()
	rl.Stop()
}
