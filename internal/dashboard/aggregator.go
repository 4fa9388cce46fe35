// Package dashboard builds role-scoped dashboard snapshots. A snapshot comes
// from the cache when live, else from the consolidated endpoint, else it is
// rebuilt from the raw collections. Remote failures never reach the caller.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"goflare.io/pulse/internal/config"
	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/normalize"
	"goflare.io/pulse/internal/remote"
	"goflare.io/pulse/internal/telemetry"
)

const warmupConcurrency = 4

// Source is the upstream API.
type Source interface {
	Dashboard(ctx context.Context, role models.Role, period string) (map[string]any, error)
	List(ctx context.Context, collection string) ([]map[string]any, error)
	Health(ctx context.Context) (map[string]any, error)
}

// Cache stores encoded snapshots with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, value any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Aggregator is safe for concurrent use. Concurrent misses on the same key
// share one build.
type Aggregator struct {
	source    Source
	cache     Cache
	telemetry *telemetry.Collector

	prefix              string
	ttl                 time.Duration
	consolidatedTimeout time.Duration
	fetchTimeout        time.Duration
	clock               func() time.Time

	sf singleflight.Group
	// gen 在每次清除時遞增；清除前開始的 build 不寫入快取
	gen     atomic.Uint64
	clearMu sync.RWMutex

	tracer trace.Tracer
	logger *zap.Logger
}

// New creates an Aggregator. collector may be nil.
func New(cfg *config.Config, source Source, cache Cache, collector *telemetry.Collector) *Aggregator {
	if collector == nil {
		// 未註冊的 collector 不會返回錯誤
		collector, _ = telemetry.NewCollector("pulse", nil)
	}

	return &Aggregator{
		source:              source,
		cache:               cache,
		telemetry:           collector,
		prefix:              cfg.KeyPrefix,
		ttl:                 cfg.DefaultExpiration,
		consolidatedTimeout: cfg.API.ConsolidatedTimeout,
		fetchTimeout:        cfg.API.FetchTimeout,
		clock:               cfg.Clock,
		tracer:              otel.Tracer("pulse/dashboard"),
		logger:              cfg.Logger,
	}
}

// GetMetrics returns the snapshot for role and period. The only error it
// returns is the caller's context error.
func (a *Aggregator) GetMetrics(ctx context.Context, role models.Role, period string) (*models.DashboardMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := models.NewRequest(role, period)
	key := req.Key(a.prefix)

	ctx, span := a.tracer.Start(ctx, "Aggregator.GetMetrics", trace.WithAttributes(
		attribute.String("role", string(req.Role)),
		attribute.String("period", req.Period),
	))
	defer span.End()

	if cached, ok := a.lookup(ctx, key); ok {
		a.telemetry.CacheHit(string(req.Role))
		a.logger.Debug("Dashboard cache hit", zap.String("key", key))
		return cached, nil
	}
	a.telemetry.CacheMiss(string(req.Role))

	// The build outlives any single caller so the others waiting on it are
	// not cancelled with it. Callers arriving after a clear start a new one.
	buildCtx := context.WithoutCancel(ctx)
	gen := a.gen.Load()
	ch := a.sf.DoChan(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		// 上一個 build 可能剛寫入
		if cached, ok := a.lookup(buildCtx, key); ok {
			return cached, nil
		}
		return a.build(buildCtx, req, key, gen), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		return res.Val.(*models.DashboardMetrics), nil
	}
}

func (a *Aggregator) lookup(ctx context.Context, key string) (*models.DashboardMetrics, bool) {
	var cached models.DashboardMetrics
	found, err := a.cache.Get(ctx, key, &cached)
	if err != nil {
		a.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	fillEmpty(&cached)
	return &cached, true
}

// ClearCache drops every cached snapshot. Builds already in flight still
// answer their callers but do not store their result.
func (a *Aggregator) ClearCache(ctx context.Context) error {
	a.clearMu.Lock()
	defer a.clearMu.Unlock()

	a.gen.Inc()
	if err := a.cache.Clear(ctx); err != nil {
		a.logger.Error("Failed to clear dashboard cache", zap.Error(err))
		return err
	}
	a.logger.Info("Dashboard cache cleared")
	return nil
}

// Invalidate drops the cached snapshot for one role and period.
func (a *Aggregator) Invalidate(ctx context.Context, role models.Role, period string) error {
	key := models.NewRequest(role, period).Key(a.prefix)

	a.clearMu.Lock()
	defer a.clearMu.Unlock()

	a.gen.Inc()
	if err := a.cache.Delete(ctx, key); err != nil {
		a.logger.Error("Failed to invalidate dashboard", zap.String("key", key), zap.Error(err))
		return err
	}
	a.logger.Info("Dashboard invalidated", zap.String("key", key))
	return nil
}

// Warmup builds and caches the given snapshots.
func (a *Aggregator) Warmup(ctx context.Context, requests []models.Request) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmupConcurrency)

	for _, req := range requests {
		g.Go(func() error {
			_, err := a.GetMetrics(gctx, req.Role, req.Period)
			return err
		})
	}
	return g.Wait()
}

func (a *Aggregator) build(ctx context.Context, req models.Request, key string, gen uint64) *models.DashboardMetrics {
	ctx, span := a.tracer.Start(ctx, "Aggregator.build")
	defer span.End()

	start := time.Now()
	now := a.clock()
	m := &models.DashboardMetrics{
		Role:        req.Role,
		Period:      req.Period,
		GeneratedAt: now.UTC(),
	}

	if payload, err := a.consolidated(ctx, m); err == nil {
		m.Source = models.SourceConsolidated
		collectionsFromPayload(m, payload)
	} else {
		a.logger.Warn("Consolidated dashboard unavailable, rebuilding from collections",
			zap.String("role", string(req.Role)), zap.String("period", req.Period), zap.Error(err))

		data := a.collect(ctx)
		if data.failed == len(rawCollections) {
			a.logger.Error("Every dashboard source failed, serving defaults",
				zap.String("role", string(req.Role)), zap.String("period", req.Period))
			m = defaultMetrics(req, now)
			a.telemetry.Built(string(req.Role), string(m.Source), time.Since(start))
			return m
		}

		m.Source = models.SourceFallback
		coreFromCollections(m, now, data)
		collectionsFromRaw(m, now, data)
	}

	m.SystemHealth = a.systemHealth(ctx)
	span.SetAttributes(attribute.String("source", string(m.Source)))

	a.store(ctx, key, m, gen)
	a.telemetry.Built(string(req.Role), string(m.Source), time.Since(start))
	return m
}

func (a *Aggregator) store(ctx context.Context, key string, m *models.DashboardMetrics, gen uint64) {
	a.clearMu.RLock()
	defer a.clearMu.RUnlock()

	if a.gen.Load() != gen {
		a.logger.Debug("Cache cleared during build, result not stored", zap.String("key", key))
		return
	}
	if err := a.cache.Set(ctx, key, m, a.ttl); err != nil {
		a.logger.Error("Failed to cache dashboard", zap.String("key", key), zap.Error(err))
	}
}

// consolidated fetches the role's consolidated payload and decodes its core
// into m. A payload whose known keys carry unusable values is rejected.
func (a *Aggregator) consolidated(ctx context.Context, m *models.DashboardMetrics) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.consolidatedTimeout)
	defer cancel()

	payload, err := a.source.Dashboard(ctx, m.Role, m.Period)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, remote.ErrMalformed
	}
	if err := coreFromPayload(m, payload); err != nil {
		return nil, errors.Join(remote.ErrMalformed, err)
	}
	if !normalize.Recognized(payload, coreOf(m)) {
		a.logger.Warn("Consolidated payload carries no known fields",
			zap.String("role", string(m.Role)), zap.Strings("keys", slices.Sorted(maps.Keys(payload))))
	}
	return payload, nil
}

var rawCollections = []string{remote.Users, remote.Companies, remote.Products, remote.Sales}

// collect fetches the four raw collections concurrently. Each failure only
// empties its own list.
func (a *Aggregator) collect(ctx context.Context) *collections {
	loc := a.clock().Location()
	lists := make([][]map[string]any, len(rawCollections))
	errs := make([]error, len(rawCollections))

	var g errgroup.Group
	for i, name := range rawCollections {
		g.Go(func() error {
			lists[i], errs[i] = a.fetchList(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	data := &collections{}
	for _, err := range errs {
		if err != nil {
			data.failed++
		}
	}

	var skipped [4]int
	data.users, skipped[0] = normalize.DecodeAll[models.User](lists[0], loc)
	data.companies, skipped[1] = normalize.DecodeAll[models.Company](lists[1], loc)
	data.products, skipped[2] = normalize.DecodeAll[models.Product](lists[2], loc)
	data.sales, skipped[3] = normalize.DecodeAll[models.Sale](lists[3], loc)
	for i, n := range skipped {
		if n > 0 {
			a.logger.Warn("Skipped unreadable records",
				zap.String("endpoint", rawCollections[i]), zap.Int("count", n))
		}
	}

	return data
}

func (a *Aggregator) fetchList(ctx context.Context, collection string) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	items, err := a.source.List(ctx, collection)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			a.logger.Debug("Collection not visible to this role", zap.String("endpoint", collection))
		} else {
			a.logger.Warn("Collection fetch failed", zap.String("endpoint", collection), zap.Error(err))
		}
		return nil, err
	}
	return items, nil
}
