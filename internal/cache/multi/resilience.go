package multi

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/retrier"
)

const scanBatch = 500

// Resilience runs shared-tier commands through a circuit breaker and the retrier.
type Resilience struct {
	client  redis.Cmdable
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// NewResilience creates a new Resilience instance.
func NewResilience(client redis.Cmdable, settings gobreaker.Settings, r *retrier.Retrier, logger *zap.Logger) *Resilience {
	if settings.Name == "" {
		settings.Name = "redis"
	}
	// A miss is an answer, not a failure.
	settings.IsSuccessful = func(err error) bool {
		return err == nil || isMiss(err)
	}
	return &Resilience{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retrier: r,
		logger:  logger,
	}
}

func (r *Resilience) execute(ctx context.Context, f func() error) error {
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.retrier.Run(ctx, f)
	})
	return err
}

// Set sets an entry in the shared tier.
func (r *Resilience) Set(ctx context.Context, key string, entry *models.Entry) error {
	return r.execute(ctx, func() error {
		return r.client.Set(ctx, key, entry, entry.Expiration.Sub(entry.StoredAt)).Err()
	})
}

// Get retrieves an entry from the shared tier. Missing keys return redis.Nil.
func (r *Resilience) Get(ctx context.Context, key string, entry *models.Entry) error {
	return r.execute(ctx, func() error {
		return r.client.Get(ctx, key).Scan(entry)
	})
}

// Delete removes keys from the shared tier.
func (r *Resilience) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.execute(ctx, func() error {
		return r.client.Del(ctx, keys...).Err()
	})
}

// Scan lists keys matching pattern.
func (r *Resilience) Scan(ctx context.Context, pattern string, fn func(key string)) error {
	var cursor uint64
	for {
		var keys []string
		if err := r.execute(ctx, func() error {
			var err error
			keys, cursor, err = r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
			return err
		}); err != nil {
			return err
		}

		for _, key := range keys {
			fn(key)
		}

		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks the shared tier.
func (r *Resilience) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
