package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const redisOpTimeout = 2 * time.Second

// redisStore is the subset of client.RedisClient the cache needs.
type redisStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	CountKeys(ctx context.Context, pattern string, batch int64) (int, error)
}

type RedisOptions struct {
	Policy    Policy
	Retention time.Duration
	// KeyPrefix namespaces the keys; Scope separates machines, whose record
	// ids are only unique per source.
	KeyPrefix string
	Scope     string
	Logger    *zap.Logger
}

// RedisCache keeps seen ids as Redis keys with a native TTL, so several
// forwarder instances reading the same source can share one view. Expiry is
// Redis' own; there is no sweeper.
type RedisCache struct {
	store     redisStore
	policy    Policy
	retention time.Duration
	prefix    string
	logger    *zap.Logger
}

func NewRedisCache(store redisStore, opts RedisOptions) *RedisCache {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "logon:seen:"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &RedisCache{
		store:     store,
		policy:    opts.Policy,
		retention: opts.Retention,
		prefix:    opts.KeyPrefix + opts.Scope + ":",
		logger:    opts.Logger.Named("dedup"),
	}

	c.logger.Info("Dedup cache ready",
		zap.String("backend", "redis"),
		zap.Stringer("policy", c.policy),
		zap.Duration("retention", c.retention),
		zap.String("key_prefix", c.prefix),
	)

	return c
}

func (c *RedisCache) key(id uint64) string {
	return c.prefix + strconv.FormatUint(id, 10)
}

func (c *RedisCache) Insert(ctx context.Context, id uint64) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	key := c.key(id)
	seenAt := time.Now().UTC().Format(time.RFC3339Nano)

	var err error
	switch c.policy {
	case PolicySliding:
		err = c.store.Set(ctx, key, seenAt, c.retention)
	default:
		// NX keeps the first writer's TTL.
		_, err = c.store.SetNX(ctx, key, seenAt, c.retention)
	}
	if err != nil {
		c.logger.Error("Failed to mark record id as seen",
			zap.Uint64("record_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to mark record %d as seen: %w", id, err)
	}
	return nil
}

func (c *RedisCache) Contains(ctx context.Context, id uint64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	ok, err := c.store.Exists(ctx, c.key(id))
	if err != nil {
		return false, fmt.Errorf("failed to look up record %d: %w", id, err)
	}
	return ok, nil
}

func (c *RedisCache) Len(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := c.store.CountKeys(ctx, c.prefix+"*", 500)
	if err != nil {
		return 0, fmt.Errorf("failed to count seen record ids: %w", err)
	}
	return n, nil
}

func (c *RedisCache) Policy() Policy {
	return c.policy
}

// Close is a no-op; the Redis client belongs to the factory.
func (c *RedisCache) Close() error {
	return nil
}
