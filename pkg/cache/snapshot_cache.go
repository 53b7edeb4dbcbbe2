package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

const (
	// DefaultTTL keeps snapshots fresh enough for intra-block reuse
	DefaultTTL = 2 * time.Second
	// DefaultEvictionInterval is how often the background sweep runs
	DefaultEvictionInterval = 10 * time.Second
)

type entry struct {
	snap      *types.PoolSnapshot
	expiresAt time.Time
}

// SnapshotCache is a concurrent TTL map for pool snapshots. Reads on the
// hot path take the read lock only; a background sweeper drops expired
// entries so the map does not grow unbounded between reads.
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

// Config holds the cache tuning knobs
type Config struct {
	TTL              time.Duration
	EvictionInterval time.Duration
}

// New creates a snapshot cache and starts its eviction loop; nil config
// uses defaults. Call Stop to release the sweeper goroutine.
func New(cfg *Config) *SnapshotCache {
	if cfg == nil {
		cfg = &Config{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := cfg.EvictionInterval
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &SnapshotCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
		nowFn:   time.Now,
	}

	c.wg.Add(1)
	go c.evictionLoop(interval)

	return c
}

// Get returns a cached snapshot if present and unexpired
func (c *SnapshotCache) Get(key string) (*types.PoolSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.nowFn().After(e.expiresAt) {
		return nil, false
	}
	return e.snap, true
}

// Put inserts or replaces a snapshot, restarting its TTL
func (c *SnapshotCache) Put(key string, snap *types.PoolSnapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{snap: snap, expiresAt: c.nowFn().Add(c.ttl)}
}

// Purge drops every entry. Used when upstream state is known stale,
// e.g. after a reorg signal.
func (c *SnapshotCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
}

// Len returns the number of entries currently held, expired or not
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stop terminates the eviction loop
func (c *SnapshotCache) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *SnapshotCache) evictionLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *SnapshotCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Key builds the canonical cache key for a pool lookup
func Key(dexID, tokenA, tokenB string) string {
	return dexID + ":" + tokenA + ":" + tokenB
}
