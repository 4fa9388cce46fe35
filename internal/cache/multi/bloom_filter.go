package multi

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"
)

// BloomFilter remembers which keys may exist in the shared tier so misses
// for never-written keys skip the network round trip.
type BloomFilter struct {
	mu                sync.RWMutex
	filter            *bloom.BloomFilter
	expectedItems     uint
	falsePositiveRate float64
	logger            *zap.Logger
}

// NewBloomFilter creates a new BloomFilter instance.
func NewBloomFilter(expectedItems uint, falsePositiveRate float64, logger *zap.Logger) *BloomFilter {
	return &BloomFilter{
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
		logger:            logger,
	}
}

// Add adds a key to the bloom filter.
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	bf.filter.AddString(key)
	bf.mu.Unlock()
}

// Test checks if a key might be in the bloom filter.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(key)
}

// Reset empties the filter.
func (bf *BloomFilter) Reset() {
	bf.mu.Lock()
	bf.filter = bloom.NewWithEstimates(bf.expectedItems, bf.falsePositiveRate)
	bf.mu.Unlock()
}

// Rebuild reconstructs the filter from the keys listed by scan. Keys written
// by other instances become visible this way.
func (bf *BloomFilter) Rebuild(ctx context.Context, scan func(ctx context.Context, fn func(key string)) error) error {
	next := bloom.NewWithEstimates(bf.expectedItems, bf.falsePositiveRate)

	count := 0
	if err := scan(ctx, func(key string) {
		next.AddString(key)
		count++
	}); err != nil {
		return fmt.Errorf("failed to rebuild bloom filter: %w", err)
	}

	bf.mu.Lock()
	bf.filter = next
	bf.mu.Unlock()

	bf.logger.Debug("Rebuilt bloom filter", zap.Int("keys", count))
	return nil
}
