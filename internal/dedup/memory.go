package dedup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"logon-forwarder/internal/bucketing"
	"logon-forwarder/internal/metrics"
)

const (
	DefaultRetention     = 10 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultShards        = 16
)

type MemoryOptions struct {
	Policy        Policy
	Retention     time.Duration
	SweepInterval time.Duration
	Shards        int
	// Clock overrides time.Now, for tests.
	Clock  func() time.Time
	Logger *zap.Logger
}

type entry struct {
	firstSeen time.Time
	expiresAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[uint64]entry
}

// MemoryCache is a sharded in-process Cache. Each shard has its own mutex,
// so ids in different shards never contend. A single sweeper goroutine
// removes expired ids one shard at a time.
type MemoryCache struct {
	policy    Policy
	retention time.Duration
	sweep     time.Duration
	shards    []*shard
	buckets   *bucketing.Manager
	now       func() time.Time
	logger    *zap.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts MemoryOptions) *MemoryCache {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &MemoryCache{
		policy:    opts.Policy,
		retention: opts.Retention,
		sweep:     opts.SweepInterval,
		shards:    make([]*shard, opts.Shards),
		buckets:   bucketing.NewManager(opts.Shards),
		now:       opts.Clock,
		logger:    opts.Logger.Named("dedup"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[uint64]entry)}
	}

	if c.sweep > 0 {
		go c.sweepLoop()
	} else {
		close(c.done)
	}

	c.logger.Info("Dedup cache ready",
		zap.String("backend", "memory"),
		zap.Stringer("policy", c.policy),
		zap.Duration("retention", c.retention),
		zap.Duration("sweep_interval", c.sweep),
		zap.Int("shards", len(c.shards)),
	)

	return c
}

func (c *MemoryCache) shardFor(id uint64) *shard {
	return c.shards[c.buckets.BucketFor(id)]
}

func (c *MemoryCache) Insert(_ context.Context, id uint64) error {
	now := c.now()
	sh := c.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, live := sh.entries[id]
	live = live && now.Before(e.expiresAt)

	switch {
	case live && c.policy == PolicyAbsolute:
		// first insert owns the window
	case live:
		e.expiresAt = now.Add(c.retention)
		sh.entries[id] = e
	default:
		sh.entries[id] = entry{firstSeen: now, expiresAt: now.Add(c.retention)}
	}
	return nil
}

func (c *MemoryCache) Contains(_ context.Context, id uint64) (bool, error) {
	now := c.now()
	sh := c.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[id]
	if !ok {
		return false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(sh.entries, id)
		return false, nil
	}
	return true, nil
}

// FirstSeen returns when the live entry for id was created.
func (c *MemoryCache) FirstSeen(id uint64) (time.Time, bool) {
	now := c.now()
	sh := c.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[id]
	if !ok || !now.Before(e.expiresAt) {
		return time.Time{}, false
	}
	return e.firstSeen, true
}

func (c *MemoryCache) Len(_ context.Context) (int, error) {
	return c.size(), nil
}

func (c *MemoryCache) size() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (c *MemoryCache) Policy() Policy {
	return c.policy
}

func (c *MemoryCache) Retention() time.Duration {
	return c.retention
}

// Sweep removes every id that expired at or before the current clock
// reading and returns how many were removed. The clock is read once, before
// any shard is locked, so an id inserted while the sweep runs always
// expires after that reading and survives it.
func (c *MemoryCache) Sweep() int {
	cutoff := c.now()
	removed := 0

	for _, sh := range c.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if !cutoff.Before(e.expiresAt) {
				delete(sh.entries, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	return removed
}

func (c *MemoryCache) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			removed := c.Sweep()
			size := c.size()
			metrics.DedupSweepEvictions.Add(float64(removed))
			metrics.DedupCacheEntries.Set(float64(size))
			if removed > 0 {
				c.logger.Debug("Expired record ids swept",
					zap.Int("removed", removed),
					zap.Int("remaining", size),
				)
			}
		}
	}
}

// Close stops the sweeper. The cache stays usable for lookups.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
	return nil
}
