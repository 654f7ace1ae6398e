package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding one backend's request quota.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	MaxTokens  float64 // Maximum bucket capacity
	RefillRate float64 // Tokens added per second
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiterWithClock(cfg, time.Now)
}

func newRateLimiterWithClock(cfg RateLimiterConfig, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:     cfg.MaxTokens,
		maxTokens:  cfg.MaxTokens,
		refillRate: cfg.RefillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Acquire blocks until a token is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := time.Second
		if r.refillRate > 0 {
			wait = time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAcquire takes a token if one is available.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Drain empties the bucket. Called when the provider itself reports a rate
// limit, so later requests wait for the refill instead of hitting it again.
func (r *RateLimiter) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	r.tokens = 0
}

// Available returns the current number of tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now
	if elapsed <= 0 {
		return
	}
	r.tokens = min(r.maxTokens, r.tokens+elapsed.Seconds()*r.refillRate)
}

// RateLimiterRegistry holds one limiter per backend name. Backends without a
// configured limit are never throttled.
type RateLimiterRegistry struct {
	limiters map[string]*RateLimiter
	mu       sync.RWMutex
}

// NewRateLimiterRegistry creates an empty registry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{limiters: make(map[string]*RateLimiter)}
}

// Configure installs a fresh limiter for a backend. A zero capacity removes it.
func (r *RateLimiterRegistry) Configure(backend string, cfg RateLimiterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.MaxTokens <= 0 {
		delete(r.limiters, backend)
		return
	}
	r.limiters[backend] = NewRateLimiter(cfg)
}

// Get returns the limiter for a backend, or nil when it is unlimited.
func (r *RateLimiterRegistry) Get(backend string) *RateLimiter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[backend]
}

// TryAcquire takes a token for the backend without blocking.
func (r *RateLimiterRegistry) TryAcquire(backend string) bool {
	l := r.Get(backend)
	if l == nil {
		return true
	}
	return l.TryAcquire()
}

// Drain empties the backend's bucket, if it has one.
func (r *RateLimiterRegistry) Drain(backend string) {
	if l := r.Get(backend); l != nil {
		l.Drain()
	}
}

// RateLimiterStatus reports a limiter's state.
type RateLimiterStatus struct {
	Available  float64 `json:"available"`
	MaxTokens  float64 `json:"max_tokens"`
	RefillRate float64 `json:"refill_rate"`
}

// Status returns the state of every configured limiter.
func (r *RateLimiterRegistry) Status() map[string]RateLimiterStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]RateLimiterStatus, len(r.limiters))
	for name, l := range r.limiters {
		status[name] = RateLimiterStatus{
			Available:  l.Available(),
			MaxTokens:  l.maxTokens,
			RefillRate: l.refillRate,
		}
	}
	return status
}
