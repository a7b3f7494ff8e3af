package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, policy Policy, clock *fakeClock) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(MemoryOptions{
		Policy:    policy,
		Retention: 10 * time.Minute,
		Shards:    4,
		Clock:     clock.Now,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustContain(t *testing.T, c Cache, id uint64) bool {
	t.Helper()
	ok, err := c.Contains(context.Background(), id)
	require.NoError(t, err)
	return ok
}

func TestInsertThenContains(t *testing.T) {
	for _, policy := range []Policy{PolicyAbsolute, PolicySliding} {
		t.Run(policy.String(), func(t *testing.T) {
			c := newTestCache(t, policy, newFakeClock())

			assert.False(t, mustContain(t, c, 1000))
			require.NoError(t, c.Insert(context.Background(), 1000))
			assert.True(t, mustContain(t, c, 1000))
			assert.False(t, mustContain(t, c, 999))
			assert.Equal(t, policy, c.Policy())
		})
	}
}

func TestAbsolutePolicyIgnoresReinsert(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, PolicyAbsolute, clock)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, 7))
	first, ok := c.FirstSeen(7)
	require.True(t, ok)

	clock.Advance(6 * time.Minute)
	require.NoError(t, c.Insert(ctx, 7))
	assert.True(t, mustContain(t, c, 7))

	clock.Advance(3*time.Minute + 59*time.Second)
	assert.True(t, mustContain(t, c, 7), "still inside the first window")

	clock.Advance(time.Second)
	assert.False(t, mustContain(t, c, 7), "expires at first insert + retention")

	require.NoError(t, c.Insert(ctx, 7))
	second, ok := c.FirstSeen(7)
	require.True(t, ok)
	assert.True(t, second.After(first), "insert after expiry starts a new entry")
}

func TestSlidingPolicyRefreshesOnInsert(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, PolicySliding, clock)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, 7))
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Minute)
		assert.True(t, mustContain(t, c, 7), "iteration %d", i)
		require.NoError(t, c.Insert(ctx, 7))
	}

	clock.Advance(10*time.Minute - time.Nanosecond)
	assert.True(t, mustContain(t, c, 7))
	clock.Advance(time.Nanosecond)
	assert.False(t, mustContain(t, c, 7))
}

func TestSlidingPolicyContainsDoesNotRefresh(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, PolicySliding, clock)

	require.NoError(t, c.Insert(context.Background(), 3))
	clock.Advance(9 * time.Minute)
	assert.True(t, mustContain(t, c, 3))
	clock.Advance(time.Minute)
	assert.False(t, mustContain(t, c, 3))
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, PolicyAbsolute, clock)
	ctx := context.Background()

	for id := uint64(1); id <= 50; id++ {
		require.NoError(t, c.Insert(ctx, id))
	}
	clock.Advance(5 * time.Minute)
	for id := uint64(51); id <= 60; id++ {
		require.NoError(t, c.Insert(ctx, id))
	}
	clock.Advance(5 * time.Minute)

	removed := c.Sweep()
	assert.Equal(t, 50, removed)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.True(t, mustContain(t, c, 55))
}

func TestSweepNeverEvictsConcurrentInserts(t *testing.T) {
	c := NewMemoryCache(MemoryOptions{
		Policy:        PolicyAbsolute,
		Retention:     time.Hour,
		SweepInterval: time.Millisecond,
		Shards:        8,
	})
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := uint64(w*1000 + i)
				assert.NoError(t, c.Insert(ctx, id))
				ok, err := c.Contains(ctx, id)
				assert.NoError(t, err)
				assert.True(t, ok)
				_ = c.Sweep()
			}
		}(w)
	}
	wg.Wait()

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4000, n)
}

func TestBackgroundSweeperEmptiesCache(t *testing.T) {
	c := NewMemoryCache(MemoryOptions{
		Retention:     50 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	defer c.Close()
	ctx := context.Background()

	for id := uint64(0); id < 100; id++ {
		require.NoError(t, c.Insert(ctx, id))
	}

	assert.Eventually(t, func() bool {
		n, _ := c.Len(ctx)
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(MemoryOptions{SweepInterval: time.Millisecond})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// lookups still work after the sweeper is gone
	require.NoError(t, c.Insert(context.Background(), 1))
	assert.True(t, mustContain(t, c, 1))
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "", want: PolicyAbsolute},
		{in: "absolute", want: PolicyAbsolute},
		{in: " Sliding ", want: PolicySliding},
		{in: "lru", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownPolicy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
