package config

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML form of the configuration used by the CLI.
type File struct {
	Listen   string        `yaml:"listen"`
	LogLevel string        `yaml:"log_level"`
	API      FileAPI       `yaml:"api"`
	Cache    FileCache     `yaml:"cache"`
	Warmup   []string      `yaml:"warmup"`
	Retry    FileRetry     `yaml:"retry"`
	Timeout  time.Duration `yaml:"shutdown_timeout"`
}

// FileAPI configures the upstream REST API.
type FileAPI struct {
	BaseURL             string        `yaml:"base_url"`
	Token               string        `yaml:"token"`
	ConsolidatedTimeout time.Duration `yaml:"consolidated_timeout"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
}

// FileCache configures the cache tiers.
type FileCache struct {
	TTL           time.Duration `yaml:"ttl"`
	Local         *bool         `yaml:"local"`
	MaxLocalSize  uint64        `yaml:"max_local_size"`
	Serialization string        `yaml:"serialization"`
	Redis         FileRedis     `yaml:"redis"`
}

// FileRedis configures the optional shared tier.
type FileRedis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Exclusive marks this process as the only writer under the key prefix.
	Exclusive bool `yaml:"exclusive"`
}

// FileRetry configures the retrier.
type FileRetry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// DefaultFile returns a File with CLI defaults.
func DefaultFile() *File {
	return &File{
		Listen:   ":8080",
		LogLevel: "info",
		Timeout:  10 * time.Second,
	}
}

// LoadFile reads a YAML config file and expands environment variables.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	f := DefaultFile()
	if err := yaml.Unmarshal([]byte(expanded), f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return f, nil
}

// Options converts the file into options applied over NewConfig defaults.
func (f *File) Options() []Option {
	opts := []Option{
		func(c *Config) error {
			if f.API.BaseURL != "" {
				c.API.BaseURL = f.API.BaseURL
			}
			if f.API.Token != "" {
				c.API.Token = f.API.Token
			}
			if f.API.ConsolidatedTimeout > 0 {
				c.API.ConsolidatedTimeout = f.API.ConsolidatedTimeout
			}
			if f.API.FetchTimeout > 0 {
				c.API.FetchTimeout = f.API.FetchTimeout
			}
			if f.Cache.TTL > 0 {
				c.DefaultExpiration = f.Cache.TTL
			}
			if f.Cache.Local != nil {
				c.EnableLocalCache = *f.Cache.Local
			}
			if f.Cache.Redis.Addr != "" {
				c.Redis = &redis.Options{
					Addr:     f.Cache.Redis.Addr,
					Password: f.Cache.Redis.Password,
					DB:       f.Cache.Redis.DB,
				}
				c.CacheBehaviorConfig.BloomFilterSettings.SoleWriter = f.Cache.Redis.Exclusive
			}
			if f.Retry.MaxAttempts > 0 {
				c.ResilienceConfig.MaxRetries = f.Retry.MaxAttempts
			}
			if f.Retry.InitialInterval > 0 {
				c.ResilienceConfig.InitialInterval = f.Retry.InitialInterval
			}
			if f.Retry.MaxInterval > 0 {
				c.ResilienceConfig.MaxInterval = f.Retry.MaxInterval
			}
			c.CacheBehaviorConfig.WarmupRequests = append(c.CacheBehaviorConfig.WarmupRequests, f.Warmup...)
			return nil
		},
	}
	if f.Cache.MaxLocalSize > 0 {
		opts = append(opts, WithMaxLocalSize(f.Cache.MaxLocalSize))
	}
	if f.Cache.Serialization != "" {
		opts = append(opts, WithSerialization(f.Cache.Serialization))
	}
	return opts
}

// NewLogger builds a production zap logger at the configured level.
func (f *File) NewLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if f.LogLevel != "" {
		if err := level.UnmarshalText([]byte(f.LogLevel)); err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
