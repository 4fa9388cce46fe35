package limited

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/pulse/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	c, err := New(1<<20, clock.Now, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func set(t *testing.T, c *Cache, clock *fakeClock, key string, data []byte, ttl time.Duration) {
	t.Helper()
	require.NoError(t, c.SetEntry(context.Background(), key, models.NewEntry(data, clock.Now(), ttl)))
}

func TestSetGet(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	set(t, c, clock, "pulse:dashboard:admin:today", []byte(`{"role":"admin"}`), 2*time.Minute)

	entry, found := c.Get(ctx, "pulse:dashboard:admin:today")
	require.True(t, found)
	assert.JSONEq(t, `{"role":"admin"}`, string(entry.Data))
	assert.EqualValues(t, 1, entry.AccessCount.Load())
}

func TestExpiredEntryIsPurged(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	set(t, c, clock, "k", []byte("v"), 2*time.Minute)

	clock.Advance(2 * time.Minute)
	_, found := c.Get(ctx, "k")
	assert.True(t, found, "entry exactly at its ttl is still live")

	clock.Advance(time.Second)
	_, found = c.Get(ctx, "k")
	assert.False(t, found)
}

func TestDeleteAndFlush(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		set(t, c, clock, k, []byte(k), time.Minute)
	}

	c.Delete(ctx, "b")
	_, found := c.Get(ctx, "b")
	assert.False(t, found)
	_, found = c.Get(ctx, "a")
	assert.True(t, found)

	c.Flush(ctx)
	for _, k := range []string{"a", "c"} {
		_, found = c.Get(ctx, k)
		assert.False(t, found, k)
	}
}

func TestSetSkipsAlreadyExpiredEntry(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	set(t, c, clock, "stale", []byte("v"), -time.Second)
	_, found := c.Get(ctx, "stale")
	assert.False(t, found)
}

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(0, time.Now, zap.NewNop())
	assert.Error(t, err)
}
