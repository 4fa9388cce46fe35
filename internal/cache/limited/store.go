package limited

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"goflare.io/pulse/internal/models"
)

// Store defines the interface for the local entry store.
type Store interface {
	Set(ctx context.Context, key string, entry *models.Entry) error
	Get(ctx context.Context, key string) (*models.Entry, bool)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context)
	Close()
}

// RistrettoStore implements the Store interface using Ristretto.
type RistrettoStore struct {
	cache  *ristretto.Cache[string, *models.Entry]
	logger *zap.Logger
	clock  func() time.Time
}

// NewRistrettoStore creates a new RistrettoStore instance bounded to maxSize bytes.
func NewRistrettoStore(maxSize uint64, clock func() time.Time, logger *zap.Logger) (*RistrettoStore, error) {
	if maxSize == 0 {
		return nil, errors.New("max size must be greater than 0")
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, *models.Entry]{
		NumCounters: 10 * int64(maxSize/1024+1),
		MaxCost:     int64(maxSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &RistrettoStore{
		cache:  c,
		logger: logger,
		clock:  clock,
	}, nil
}

// Set stores an entry and waits until it is visible to Get.
func (s *RistrettoStore) Set(ctx context.Context, key string, entry *models.Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ttl := entry.Remaining(s.clock())
	if ttl <= 0 {
		return nil
	}

	if !s.cache.SetWithTTL(key, entry, int64(len(entry.Data))+1, ttl) {
		s.logger.Warn("Ristretto SetWithTTL rejected entry", zap.String("key", key))
		return models.ErrSetFailed
	}
	s.cache.Wait()

	return nil
}

// Get retrieves a live entry, purging it when expired.
func (s *RistrettoStore) Get(ctx context.Context, key string) (*models.Entry, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	default:
	}

	entry, found := s.cache.Get(key)
	if !found || entry == nil {
		return nil, false
	}

	if entry.IsExpired(s.clock()) {
		s.cache.Del(key)
		return nil, false
	}

	entry.IncrementAccess()
	return entry, true
}

// Delete removes a cache entry.
func (s *RistrettoStore) Delete(ctx context.Context, key string) {
	s.cache.Del(key)
}

// Flush clears the entire cache.
func (s *RistrettoStore) Flush(ctx context.Context) {
	s.cache.Clear()
}

// Close closes the cache.
func (s *RistrettoStore) Close() {
	s.cache.Close()
}
