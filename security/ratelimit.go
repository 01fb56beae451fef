package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxTrackedIPs bounds the number of addresses tracked at once
	DefaultMaxTrackedIPs = 10000

	defaultSweepInterval = 5 * time.Minute
	defaultIdleTimeout   = 30 * time.Minute
)

type bucket struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token bucket limiter for the token endpoint.
// The least recently seen address is evicted once MaxEntries is reached.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*list.Element
	order      *list.List // front is most recently seen
	limit      rate.Limit
	burst      int
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// RateLimiterConfig configures a RateLimiter
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate per address
	RequestsPerSecond float64
	// Burst is the bucket size
	Burst int
	// MaxEntries caps tracked addresses (default: DefaultMaxTrackedIPs)
	MaxEntries int
	// SweepInterval controls idle bucket removal (default: 5m, negative disables)
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// NewRateLimiter creates a limiter and starts its idle sweep
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxTrackedIPs
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	rl := &RateLimiter{
		buckets:    make(map[string]*list.Element),
		order:      list.New(),
		limit:      rate.Limit(cfg.RequestsPerSecond),
		burst:      cfg.Burst,
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
		logger:     cfg.Logger,
		stop:       make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go rl.sweepLoop(cfg.SweepInterval)
	}
	return rl
}

// SetClock replaces the time source (for tests)
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// Allow reports whether a request from ip may proceed and consumes a token if so
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if elem, ok := rl.buckets[ip]; ok {
		rl.order.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = now
		return b.limiter.AllowN(now, 1)
	}

	if len(rl.buckets) >= rl.maxEntries {
		rl.evictOldest()
	}

	b := &bucket{
		ip:       ip,
		limiter:  rate.NewLimiter(rl.limit, rl.burst),
		lastSeen: now,
	}
	rl.buckets[ip] = rl.order.PushFront(b)
	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked addresses
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// must hold rl.mu
func (rl *RateLimiter) evictOldest() {
	elem := rl.order.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	rl.order.Remove(elem)
	delete(rl.buckets, b.ip)
	rl.logger.Debug("Rate limiter evicted address", "tracked", len(rl.buckets))
}

// Sweep removes buckets idle for longer than maxIdle and returns how many were removed
func (rl *RateLimiter) Sweep(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	// oldest entries sit at the back; stop at the first recent one
	for elem := rl.order.Back(); elem != nil; {
		b := elem.Value.(*bucket)
		if !b.lastSeen.Before(cutoff) {
			break
		}
		prev := elem.Prev()
		rl.order.Remove(elem)
		delete(rl.buckets, b.ip)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter sweep", "removed", removed, "remaining", len(rl.buckets))
	}
	return removed
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Sweep(defaultIdleTimeout)
		case <-rl.stop:
			return
		}
	}
}

// Stop terminates the sweep goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
