// Package multi layers the in-process tier over an optional shared redis tier
// behind a small get/set/clear-with-TTL interface.
package multi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/pulse/internal/cache/limited"
	"goflare.io/pulse/internal/config"
	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/retrier"
	"goflare.io/pulse/pkg/serialization"
)

// ErrNoTier is returned when neither the local nor the shared tier is enabled.
var ErrNoTier = errors.New("no cache tier enabled")

// CacheOperations defines the interface for cache operations.
type CacheOperations interface {
	Get(ctx context.Context, key string, value any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache represents a two-tier cache with a local and an optional shared tier.
type Cache struct {
	local  *limited.Cache
	remote *Resilience
	client redis.Cmdable

	prefix  string
	encoder func(io.Writer) serialization.Encoder
	decoder func(io.Reader) serialization.Decoder
	clock   func() time.Time

	sf          singleflight.Group
	bloomFilter *BloomFilter
	soleWriter  bool
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewCache creates a new Cache. client may be nil for a local-only cache.
func NewCache(ctx context.Context, cfg *config.Config, client redis.Cmdable) (*Cache, error) {
	if !cfg.EnableLocalCache && client == nil {
		return nil, ErrNoTier
	}

	c := &Cache{
		client:  client,
		prefix:  cfg.KeyPrefix,
		encoder: cfg.Serialization.Encoder,
		decoder: cfg.Serialization.Decoder,
		clock:   cfg.Clock,
		tracer:  otel.Tracer("pulse/cache"),

		soleWriter: cfg.CacheBehaviorConfig.BloomFilterSettings.SoleWriter,
		logger:  cfg.Logger,
	}

	if cfg.EnableLocalCache {
		lc, err := limited.New(cfg.MaxLocalSize, cfg.Clock, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create local cache: %w", err)
		}
		c.local = lc
	}

	if client != nil {
		r, err := retrier.NewRetrier(
			cfg.ResilienceConfig.MaxRetries,
			cfg.ResilienceConfig.InitialInterval,
			cfg.ResilienceConfig.MaxInterval,
			cfg.ResilienceConfig.Multiplier,
			cfg.ResilienceConfig.RandomizationFactor,
			retrier.ExponentialBackoff,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create retrier: %w", err)
		}

		c.remote = NewResilience(client, cfg.ResilienceConfig.EndpointCircuitBreaker, r, cfg.Logger)
		c.bloomFilter = NewBloomFilter(
			cfg.CacheBehaviorConfig.BloomFilterSettings.ExpectedItems,
			cfg.CacheBehaviorConfig.BloomFilterSettings.FalsePositiveRate,
			cfg.Logger,
		)
		if err := c.bloomFilter.Rebuild(ctx, c.scanOwnKeys); err != nil {
			c.logger.Warn("Failed to load shared cache keys", zap.Error(err))
		}
	}

	return c, nil
}

func (c *Cache) scanOwnKeys(ctx context.Context, fn func(key string)) error {
	return c.remote.Scan(ctx, c.prefix+":*", fn)
}

// Set encodes value and stores it in every enabled tier for ttl.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	data, err := serialization.Marshal(c.encoder, value)
	if err != nil {
		return err
	}
	entry := models.NewEntry(data, c.clock(), ttl)

	var errs []error
	if c.local != nil {
		if err := c.local.SetEntry(ctx, key, entry); err != nil {
			errs = append(errs, fmt.Errorf("local set failed: %w", err))
		}
	}

	if c.remote != nil {
		if err := c.remote.Set(ctx, key, entry); err != nil {
			errs = append(errs, fmt.Errorf("redis set failed: %w", err))
		} else {
			c.bloomFilter.Add(key)
		}
	}

	return errors.Join(errs...)
}

// Get decodes the live value for key into value.
func (c *Cache) Get(ctx context.Context, key string, value any) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "Cache.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if c.local != nil {
		if entry, found := c.local.Get(ctx, key); found {
			span.SetAttributes(attribute.String("tier", "local"))
			return true, serialization.Unmarshal(c.decoder, entry.Data, value)
		}
	}

	if c.remote == nil {
		return false, nil
	}

	// Peers may have written the key since the filter was built, so a
	// negative only short-circuits when this instance is the sole writer.
	if c.soleWriter && !c.bloomFilter.Test(key) {
		c.logger.Debug("Bloom filter negative for key", zap.String("key", key))
		return false, nil
	}

	return c.getFromRemote(ctx, key, value)
}

func (c *Cache) getFromRemote(ctx context.Context, key string, value any) (bool, error) {
	v, err, _ := c.sf.Do(key, func() (any, error) {
		var entry models.Entry
		if err := c.remote.Get(ctx, key, &entry); err != nil {
			if isMiss(err) {
				return nil, nil
			}
			return nil, err
		}
		return &entry, nil
	})
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	if v == nil {
		return false, nil
	}

	entry := v.(*models.Entry)
	c.bloomFilter.Add(key)
	if entry.IsExpired(c.clock()) {
		return false, nil
	}

	if err := serialization.Unmarshal(c.decoder, entry.Data, value); err != nil {
		return false, err
	}

	if c.local != nil {
		if err := c.local.SetEntry(ctx, key, entry); err != nil {
			c.logger.Warn("Failed to set local cache", zap.Error(err), zap.String("key", key))
		}
	}

	return true, nil
}

// Delete removes a key from every tier.
func (c *Cache) Delete(ctx context.Context, key string) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if c.local != nil {
		c.local.Delete(ctx, key)
	}
	if c.remote != nil {
		if err := c.remote.Delete(ctx, key); err != nil {
			return fmt.Errorf("redis delete failed: %w", err)
		}
	}
	return nil
}

// Clear removes every key under the cache prefix from every tier.
func (c *Cache) Clear(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Clear")
	defer span.End()

	if c.local != nil {
		c.local.Flush(ctx)
	}

	if c.remote == nil {
		return nil
	}

	// Scan only our own prefix; the redis database may be shared.
	var keys []string
	if err := c.scanOwnKeys(ctx, func(key string) {
		keys = append(keys, key)
	}); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if err := c.remote.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("redis clear failed: %w", err)
	}

	c.bloomFilter.Reset()
	return nil
}

// Ping checks the shared tier. A local-only cache is always reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Ping(ctx)
}

// Close closes all tiers associated with the Cache.
func (c *Cache) Close() error {
	var errs []error

	if c.local != nil {
		if err := c.local.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close local cache: %w", err))
		}
	}

	if closer, ok := c.client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close remote cache connection: %w", err))
		}
	}

	return errors.Join(errs...)
}
