package dedup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu      sync.Mutex
	keys    map[string]time.Duration
	setCall int
	nxCall  int
	err     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]time.Duration)}
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCall++
	if f.err != nil {
		return f.err
	}
	f.keys[key] = ttl
	return nil
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nxCall++
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = ttl
	return true, nil
}

func (f *fakeRedis) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.keys[key]
	return ok, nil
}

func (f *fakeRedis) CountKeys(_ context.Context, pattern string, _ int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	n := 0
	for k := range f.keys {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func TestRedisCacheAbsoluteUsesSetNX(t *testing.T) {
	store := newFakeRedis()
	c := NewRedisCache(store, RedisOptions{
		Policy:    PolicyAbsolute,
		Retention: 5 * time.Minute,
		Scope:     "WS01",
	})
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, 42))
	require.NoError(t, c.Insert(ctx, 42))

	assert.Equal(t, 2, store.nxCall)
	assert.Equal(t, 0, store.setCall)
	assert.Equal(t, 5*time.Minute, store.keys["logon:seen:WS01:42"])

	ok, err := c.Contains(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Contains(ctx, 43)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheSlidingUsesSet(t *testing.T) {
	store := newFakeRedis()
	c := NewRedisCache(store, RedisOptions{Policy: PolicySliding, Scope: "WS01"})

	require.NoError(t, c.Insert(context.Background(), 42))
	assert.Equal(t, 1, store.setCall)
	assert.Equal(t, 0, store.nxCall)
	assert.Equal(t, PolicySliding, c.Policy())
}

func TestRedisCacheLenIsScoped(t *testing.T) {
	store := newFakeRedis()
	a := NewRedisCache(store, RedisOptions{Scope: "WS01"})
	b := NewRedisCache(store, RedisOptions{Scope: "WS02"})
	ctx := context.Background()

	require.NoError(t, a.Insert(ctx, 1))
	require.NoError(t, a.Insert(ctx, 2))
	require.NoError(t, b.Insert(ctx, 1))

	n, err := a.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisCacheWrapsStoreErrors(t *testing.T) {
	store := newFakeRedis()
	store.err = errors.New("connection refused")
	c := NewRedisCache(store, RedisOptions{})

	err := c.Insert(context.Background(), 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)

	_, err = c.Contains(context.Background(), 9)
	assert.ErrorIs(t, err, store.err)
}
