package cache

import (
	"context"
	"sync"
	"time"
)

// Janitor periodically removes expired entries.
type Janitor struct {
	cache    *Cache
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewJanitor creates a sweeper for c. It does nothing until Start.
func NewJanitor(c *Cache, interval time.Duration) *Janitor {
	return &Janitor{cache: c, interval: interval}
}

// Start launches the sweep loop. A non-positive interval disables it.
// Calling Start on a running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running || j.interval <= 0 {
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	j.running = true

	go j.loop(ctx, j.done)
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.cache.EvictExpired(ctx)
			if err != nil {
				j.cache.logger.Warn("cache sweep failed", "error", err)
				continue
			}
			if n > 0 {
				j.cache.logger.Info("cache sweep removed expired entries", "count", n)
			}
		}
	}
}

// Stop ends the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.cancel()
	done := j.done
	j.running = false
	j.mu.Unlock()

	<-done
}
