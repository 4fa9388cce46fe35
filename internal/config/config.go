package config

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/pulse/pkg/serialization"
)

// Config 用於 Pulse 的配置
type Config struct {
	EnableLocalCache  bool
	MaxLocalSize      uint64
	DefaultExpiration time.Duration
	KeyPrefix         string

	API                 APIConfig
	CacheBehaviorConfig CacheBehaviorConfig
	ResilienceConfig    ResilienceConfig
	Serialization       SerializationConfig
	Redis               *redis.Options
	Registerer          prometheus.Registerer
	Logger              *zap.Logger
	Clock               func() time.Time
}

// APIConfig 遠端 API 配置
type APIConfig struct {
	BaseURL             string
	Token               string
	HTTPClient          *http.Client
	ConsolidatedTimeout time.Duration
	FetchTimeout        time.Duration
}

// CacheBehaviorConfig 緩存相關配置
type CacheBehaviorConfig struct {
	// WarmupRequests are "role:period" pairs built on startup.
	WarmupRequests      []string
	BloomFilterSettings BloomFilterConfig
}

// ResilienceConfig 用於設置重試和熔斷器
type ResilienceConfig struct {
	EndpointCircuitBreaker gobreaker.Settings
	MaxRetries             int
	InitialInterval        time.Duration
	MaxInterval            time.Duration
	Multiplier             float64
	RandomizationFactor    float64
}

// BloomFilterConfig 用於布隆過濾器的配置
type BloomFilterConfig struct {
	ExpectedItems     uint
	FalsePositiveRate float64

	// SoleWriter 為 true 時，過濾器的否定結果直接視為未命中。
	// 只有在沒有其他實例寫入同一個 Redis 前綴時才可開啟。
	SoleWriter bool
}

// SerializationConfig 序列化相關配置
type SerializationConfig struct {
	Type    string
	Encoder func(io.Writer) serialization.Encoder
	Decoder func(io.Reader) serialization.Decoder
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrBaseURLRequired = errors.New("api base url is required")
	ErrInvalidTTL      = errors.New("cache ttl must be greater than 0")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	defaultLogger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		EnableLocalCache:  true,
		MaxLocalSize:      64 * 1024 * 1024, // 64MB
		DefaultExpiration: 2 * time.Minute,
		KeyPrefix:         "pulse:dashboard",
		API: APIConfig{
			HTTPClient:          &http.Client{Timeout: 30 * time.Second},
			ConsolidatedTimeout: 10 * time.Second,
			FetchTimeout:        10 * time.Second,
		},
		CacheBehaviorConfig: CacheBehaviorConfig{
			BloomFilterSettings: BloomFilterConfig{
				ExpectedItems:     1000,
				FalsePositiveRate: 0.01,
			},
		},
		ResilienceConfig: ResilienceConfig{
			EndpointCircuitBreaker: gobreaker.Settings{
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			MaxRetries:          3,
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         1 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.1,
		},
		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JsonEncoder,
			Decoder: serialization.JsonDecoder,
		},
		Logger: defaultLogger,
		Clock:  time.Now,
	}

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	// 最終檢查
	if cfg.API.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if cfg.DefaultExpiration <= 0 {
		return nil, ErrInvalidTTL
	}

	return cfg, nil
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithMaxLocalSize 設置本地快取的最大大小
func WithMaxLocalSize(size uint64) Option {
	return func(c *Config) error {
		if size == 0 {
			return errors.New("max local size must be greater than 0")
		}
		c.MaxLocalSize = size
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(kind string) Option {
	return func(c *Config) error {
		switch kind {
		case serialization.JSONType:
			c.Serialization = SerializationConfig{
				Type:    kind,
				Encoder: serialization.JsonEncoder,
				Decoder: serialization.JsonDecoder,
			}
		case serialization.GobType:
			c.Serialization = SerializationConfig{
				Type:    kind,
				Encoder: serialization.GobEncoder,
				Decoder: serialization.GobDecoder,
			}
		default:
			return errors.New("unsupported serialization type: " + kind)
		}
		return nil
	}
}
