// Package cache implements the fingerprint cache: results keyed by a digest
// of the agent identity and the exact input bytes, with expiration.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
)

const stripeCount = 64

// Fingerprint returns the cache key for an agent and input: the hex SHA-256
// of agentID, a zero byte, then the input. The separator keeps ("ab", "c")
// and ("a", "bc") apart. Input is not normalized.
func Fingerprint(agentID string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// Observer receives cache events. Metrics implement it.
type Observer interface {
	CacheLookup(agentID string, hit bool)
	CacheEvicted(reason string, n int)
}

// Cache is the fingerprint cache.
//
// Per-key operations hold the shared side of mu plus one key stripe, so
// different keys proceed in parallel and the same key is serialized. Bulk
// eviction holds mu exclusively.
type Cache struct {
	store      core.CacheStore
	defaultTTL atomic.Int64
	mu         sync.RWMutex
	stripes    [stripeCount]sync.Mutex
	now        func() time.Time
	logger     *logging.Logger
	observer   Observer
}

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL sets the TTL used when Set is called without WithTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.defaultTTL.Store(int64(d))
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithObserver registers an observer for hits, misses and evictions.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

// New creates a cache over store.
func New(store core.CacheStore, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	c.defaultTTL.Store(int64(24 * time.Hour))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDefaultTTL changes the default TTL for subsequent writes.
func (c *Cache) SetDefaultTTL(d time.Duration) {
	c.defaultTTL.Store(int64(d))
}

// DefaultTTL returns the TTL used when none is given.
func (c *Cache) DefaultTTL() time.Duration {
	return time.Duration(c.defaultTTL.Load())
}

func (c *Cache) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.stripes[h.Sum32()%stripeCount]
}

func expired(e core.CacheIndexEntry, now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Get returns the payload stored for (agentID, input). An expired entry is
// deleted before Get returns and reported as a miss. Storage errors are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, agentID string, input []byte) ([]byte, bool) {
	key := Fingerprint(agentID, input)

	c.mu.RLock()
	defer c.mu.RUnlock()
	lock := c.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.GetEntry(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss", "agent", agentID, "error", err)
		c.observe(agentID, false)
		return nil, false
	}
	if rec == nil {
		c.observe(agentID, false)
		return nil, false
	}

	if expired(rec.CacheIndexEntry, c.now()) {
		if _, err := c.store.DeleteEntries(ctx, []string{key}); err != nil {
			c.logger.Warn("deleting expired cache entry failed", "agent", agentID, "error", err)
		} else if c.observer != nil {
			c.observer.CacheEvicted("expired_on_read", 1)
		}
		c.observe(agentID, false)
		return nil, false
	}

	c.observe(agentID, true)
	return rec.Payload, true
}

func (c *Cache) observe(agentID string, hit bool) {
	if c.observer != nil {
		c.observer.CacheLookup(agentID, hit)
	}
}

type setOptions struct {
	ttl    time.Duration
	hasTTL bool
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

// WithTTL overrides the default TTL for one entry.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = d
		o.hasTTL = true
	}
}

// Set stores payload for (agentID, input). A TTL of zero or less stores
// nothing and removes any existing entry for the key.
func (c *Cache) Set(ctx context.Context, agentID string, input, payload []byte, opts ...SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	ttl := c.DefaultTTL()
	if o.hasTTL {
		ttl = o.ttl
	}

	key := Fingerprint(agentID, input)

	c.mu.RLock()
	defer c.mu.RUnlock()
	lock := c.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	if ttl <= 0 {
		if _, err := c.store.DeleteEntries(ctx, []string{key}); err != nil {
			return core.ErrStorage(core.CodeStoreWrite, "removing cache entry").WithCause(err)
		}
		return nil
	}

	now := c.now()
	rec := &core.CacheRecord{
		CacheIndexEntry: core.CacheIndexEntry{
			Key:       key,
			AgentID:   agentID,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			Size:      int64(len(payload)),
		},
		Payload: payload,
	}
	if err := c.store.PutEntry(ctx, rec); err != nil {
		return core.ErrStorage(core.CodeStoreWrite, "writing cache entry").WithCause(err)
	}
	return nil
}

// Evict removes every entry, or only those of agentID when it is non-empty.
func (c *Cache) Evict(ctx context.Context, agentID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.store.ListIndex(ctx)
	if err != nil {
		return 0, core.ErrStorage(core.CodeStoreRead, "listing cache index").WithCause(err)
	}

	keys := make([]string, 0, len(index))
	for _, e := range index {
		if agentID == "" || e.AgentID == agentID {
			keys = append(keys, e.Key)
		}
	}
	return c.deleteLocked(ctx, keys, "manual")
}

// EvictExpired removes every entry whose expiry has passed.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.store.ListIndex(ctx)
	if err != nil {
		return 0, core.ErrStorage(core.CodeStoreRead, "listing cache index").WithCause(err)
	}

	now := c.now()
	keys := make([]string, 0)
	for _, e := range index {
		if expired(e, now) {
			keys = append(keys, e.Key)
		}
	}
	return c.deleteLocked(ctx, keys, "expired")
}

func (c *Cache) deleteLocked(ctx context.Context, keys []string, reason string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.store.DeleteEntries(ctx, keys)
	if err != nil {
		return 0, core.ErrStorage(core.CodeStoreWrite, "deleting cache entries").WithCause(err)
	}
	if c.observer != nil {
		c.observer.CacheEvicted(reason, n)
	}
	c.logger.Debug("cache entries evicted", "reason", reason, "count", n)
	return n, nil
}

// AgentStats counts entries for one agent.
type AgentStats struct {
	Total   int   `json:"total"`
	Active  int   `json:"active"`
	Expired int   `json:"expired"`
	Bytes   int64 `json:"bytes"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Total    int                   `json:"total"`
	Active   int                   `json:"active"`
	Expired  int                   `json:"expired"`
	Bytes    int64                 `json:"bytes"`
	Oldest   time.Time             `json:"oldest,omitempty"`
	Newest   time.Time             `json:"newest,omitempty"`
	PerAgent map[string]AgentStats `json:"per_agent"`
}

// Agents returns agent IDs in sorted order.
func (s Stats) Agents() []string {
	ids := make([]string, 0, len(s.PerAgent))
	for id := range s.PerAgent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats reads the index and counts entries. It never deletes anything.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index, err := c.store.ListIndex(ctx)
	if err != nil {
		return Stats{}, core.ErrStorage(core.CodeStoreRead, "listing cache index").WithCause(err)
	}

	now := c.now()
	stats := Stats{PerAgent: make(map[string]AgentStats)}
	for _, e := range index {
		a := stats.PerAgent[e.AgentID]
		a.Total++
		a.Bytes += e.Size
		if expired(e, now) {
			a.Expired++
			stats.Expired++
		} else {
			a.Active++
			stats.Active++
		}
		stats.PerAgent[e.AgentID] = a

		stats.Total++
		stats.Bytes += e.Size
		if stats.Oldest.IsZero() || e.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(stats.Newest) {
			stats.Newest = e.CreatedAt
		}
	}
	return stats, nil
}
