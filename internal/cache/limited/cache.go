// Package limited is the in-process cache tier: a size-bounded ristretto
// store holding encoded entries with a clock-checked expiration.
package limited

import (
	"context"
	"time"

	"go.uber.org/zap"

	"goflare.io/pulse/internal/models"
)

// Cache is the local tier used by the multi cache.
type Cache struct {
	store Store
}

// New creates a new Cache instance.
func New(maxSize uint64, clock func() time.Time, logger *zap.Logger) (*Cache, error) {
	store, err := NewRistrettoStore(maxSize, clock, logger)
	if err != nil {
		return nil, err
	}
	return &Cache{store: store}, nil
}

// SetEntry stores an entry, keeping its expiration.
func (c *Cache) SetEntry(ctx context.Context, key string, entry *models.Entry) error {
	return c.store.Set(ctx, key, entry)
}

// Get returns the live entry for key.
func (c *Cache) Get(ctx context.Context, key string) (*models.Entry, bool) {
	return c.store.Get(ctx, key)
}

// Delete removes a cache entry.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.store.Delete(ctx, key)
}

// Flush clears the entire cache.
func (c *Cache) Flush(ctx context.Context) {
	c.store.Flush(ctx)
}

// Close closes the Cache.
func (c *Cache) Close() error {
	c.store.Close()
	return nil
}
