// Package pulse serves role-scoped dashboard metrics for the back-office:
// cached for a short TTL, read from the consolidated endpoint when it answers
// and rebuilt from the raw collections when it does not.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/pulse/internal/cache/multi"
	"goflare.io/pulse/internal/config"
	"goflare.io/pulse/internal/dashboard"
	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/remote"
	"goflare.io/pulse/internal/telemetry"
)

type (
	// Metrics is one dashboard snapshot.
	Metrics = models.DashboardMetrics
	// Role selects whose dashboard is built.
	Role = models.Role
	// Stats holds the in-process counters.
	Stats = telemetry.Snapshot
	// Option 定義初始化 Pulse 的選項
	Option = config.Option
)

const (
	RoleAdmin        = models.RoleAdmin
	RoleEntrepreneur = models.RoleEntrepreneur
	RoleClient       = models.RoleClient
)

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return config.WithLogger(logger)
}

// WithBaseURL 設置遠端 API 位址
func WithBaseURL(baseURL string) Option {
	return func(cfg *config.Config) error {
		cfg.API.BaseURL = baseURL
		return nil
	}
}

// WithToken sets the bearer token sent with every API call.
func WithToken(token string) Option {
	return func(cfg *config.Config) error {
		cfg.API.Token = token
		return nil
	}
}

// WithHTTPClient 設置 HTTP 客戶端
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *config.Config) error {
		if client != nil {
			cfg.API.HTTPClient = client
		}
		return nil
	}
}

// WithTTL 設置快取的過期時間
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.DefaultExpiration = ttl
		return nil
	}
}

// WithTimeouts bounds the consolidated call and each collection fetch.
func WithTimeouts(consolidated, fetch time.Duration) Option {
	return func(cfg *config.Config) error {
		if consolidated > 0 {
			cfg.API.ConsolidatedTimeout = consolidated
		}
		if fetch > 0 {
			cfg.API.FetchTimeout = fetch
		}
		return nil
	}
}

// WithRetry 設置重試次數與間隔
func WithRetry(maxAttempts int, initial, maxInterval time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.ResilienceConfig.MaxRetries = maxAttempts
		cfg.ResilienceConfig.InitialInterval = initial
		cfg.ResilienceConfig.MaxInterval = maxInterval
		return nil
	}
}

// WithLocalCache turns the in-process tier on or off.
func WithLocalCache(enabled bool) Option {
	return func(cfg *config.Config) error {
		cfg.EnableLocalCache = enabled
		return nil
	}
}

// WithMaxLocalSize 設置本地快取的最大大小（字節）
func WithMaxLocalSize(maxSize uint64) Option {
	return config.WithMaxLocalSize(maxSize)
}

// WithRedis 啟用共享的 Redis 快取層
func WithRedis(opts *redis.Options) Option {
	return func(cfg *config.Config) error {
		cfg.Redis = opts
		return nil
	}
}

// WithExclusiveRedis 表示本實例是該前綴下唯一的寫入者，
// 布隆過濾器的否定結果可直接視為未命中
func WithExclusiveRedis() Option {
	return func(cfg *config.Config) error {
		cfg.CacheBehaviorConfig.BloomFilterSettings.SoleWriter = true
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(kind string) Option {
	return config.WithSerialization(kind)
}

// WithClock replaces time.Now for cache expiry and month windows.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config.Config) error {
		if clock != nil {
			cfg.Clock = clock
		}
		return nil
	}
}

// WithRegisterer registers the prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *config.Config) error {
		cfg.Registerer = reg
		return nil
	}
}

// WithWarmup lists "role:period" snapshots built by New.
func WithWarmup(requests ...string) Option {
	return func(cfg *config.Config) error {
		cfg.CacheBehaviorConfig.WarmupRequests = append(cfg.CacheBehaviorConfig.WarmupRequests, requests...)
		return nil
	}
}

// Pulse 定義 Pulse 庫的主要結構體
type Pulse struct {
	aggregator *dashboard.Aggregator
	cache      multi.CacheOperations
	telemetry  *telemetry.Collector
	logger     *zap.Logger
}

// New 初始化 Pulse，接受多個配置選項
func New(ctx context.Context, opts ...Option) (*Pulse, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}

	warmup, err := parseRequests(cfg.CacheBehaviorConfig.WarmupRequests)
	if err != nil {
		return nil, err
	}

	collector, err := telemetry.NewCollector("pulse", cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	// 初始化 Redis 客戶端
	var (
		rc     *redis.Client
		client redis.Cmdable
	)
	if cfg.Redis != nil {
		rc = redis.NewClient(cfg.Redis)
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		client = rc
	}

	cache, err := multi.NewCache(ctx, cfg, client)
	if err != nil {
		if rc != nil {
			_ = rc.Close()
		}
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	api, err := remote.NewClient(cfg, collector)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	p := &Pulse{
		aggregator: dashboard.New(cfg, api, cache, collector),
		cache:      cache,
		telemetry:  collector,
		logger:     cfg.Logger,
	}

	if len(warmup) > 0 {
		if err := p.aggregator.Warmup(ctx, warmup); err != nil {
			_ = cache.Close()
			return nil, fmt.Errorf("warmup interrupted: %w", err)
		}
		p.logger.Info("Dashboard cache warmed", zap.Int("snapshots", len(warmup)))
	}

	return p, nil
}

// GetMetrics returns the dashboard for role and period. Upstream failures
// are absorbed; only a cancelled ctx is reported.
func (p *Pulse) GetMetrics(ctx context.Context, role Role, period string) (*Metrics, error) {
	return p.aggregator.GetMetrics(ctx, role, period)
}

// ClearCache 清空所有快取
func (p *Pulse) ClearCache(ctx context.Context) error {
	return p.aggregator.ClearCache(ctx)
}

// Invalidate 移除單一角色與期間的快取
func (p *Pulse) Invalidate(ctx context.Context, role Role, period string) error {
	return p.aggregator.Invalidate(ctx, role, period)
}

// Warmup builds and caches the given "role:period" snapshots.
func (p *Pulse) Warmup(ctx context.Context, requests ...string) error {
	reqs, err := parseRequests(requests)
	if err != nil {
		return err
	}
	return p.aggregator.Warmup(ctx, reqs)
}

// Stats returns the in-process counters.
func (p *Pulse) Stats() Stats {
	return p.telemetry.Snapshot()
}

// Close 關閉 Pulse，釋放資源
func (p *Pulse) Close() error {
	return p.cache.Close()
}

func parseRequests(raw []string) ([]models.Request, error) {
	reqs := make([]models.Request, 0, len(raw))
	var errs []error
	for _, s := range raw {
		req, err := models.ParseRequest(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reqs = append(reqs, req)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWarmup, errors.Join(errs...))
	}
	return reqs, nil
}
