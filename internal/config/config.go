// Package config loads the feed engine configuration from a YAML file with
// environment variable overrides. A .env file is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
)

// Default configuration values.
const (
	defaultServiceName = "feed-engine"
	defaultServicePort = 8097
	defaultVersion     = "0.1.0"

	defaultRedisAddress = "localhost:6379"

	defaultRankingTimeout = 6 * time.Second

	defaultFeedTTL         = 30 * time.Minute
	defaultStaleTTL        = 24 * time.Hour
	defaultDefaultPageSize = 20
	defaultMaxPageSize     = 100
	defaultViewedWindow    = 7 * 24 * time.Hour

	defaultLockTTL        = 30 * time.Second
	defaultLockRetryDelay = 100 * time.Millisecond
	defaultLockWaitBudget = 3 * time.Second

	defaultTraceIndex       = "feed_traces"
	defaultTraceBufferSize  = 256
	defaultTraceFlushTimeout = 5 * time.Second

	defaultLoggingLevel = "info"
)

// Config holds the application configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Redis   RedisConfig   `yaml:"redis"`
	Ranking RankingConfig `yaml:"ranking"`
	Feed    FeedConfig    `yaml:"feed"`
	Lock    LockConfig    `yaml:"lock"`
	Tracing TracingConfig `yaml:"tracing"`
	Logging logger.Config `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Port      int    `env:"FEED_ENGINE_PORT"   yaml:"port"`
	Debug     bool   `env:"APP_DEBUG"          yaml:"debug"`
	JWTSecret string `env:"FEED_ENGINE_SECRET" yaml:"jwt_secret"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// RankingConfig holds ranking service client configuration.
type RankingConfig struct {
	// URL is the base URL of the external ranking service.
	URL string `env:"RANKING_SERVICE_URL" yaml:"url"`
	// Timeout bounds a single ranking call. Exceeding it fails the
	// generation; no partial feed is cached.
	Timeout time.Duration `yaml:"timeout"`
}

// FeedConfig holds feed generation and pagination configuration.
type FeedConfig struct {
	// TTL is the lifetime of a generated feed in the cache.
	TTL time.Duration `yaml:"ttl"`
	// StaleTTL is the lifetime of the last-known-good fallback copy.
	StaleTTL time.Duration `yaml:"stale_ttl"`
	// DefaultPageSize is used when the caller does not supply a count.
	DefaultPageSize int `yaml:"default_page_size"`
	// MaxPageSize caps the caller-supplied count.
	MaxPageSize int `yaml:"max_page_size"`
	// ViewedWindow is the rolling window within which an item counts as
	// already seen by the user.
	ViewedWindow time.Duration `yaml:"viewed_window"`
	// HideViewed removes already-seen items from freshly generated feeds.
	// This is a service-layer policy, not part of generation.
	HideViewed bool `yaml:"hide_viewed"`
	// ServeStaleOnError substitutes the fallback copy when the ranking
	// service is unavailable and no live feed exists.
	ServeStaleOnError bool `yaml:"serve_stale_on_error"`
}

// LockConfig holds generation lock configuration.
type LockConfig struct {
	// TTL is the lock lease time; it is the safety net if explicit release
	// fails, e.g. on process crash.
	TTL time.Duration `yaml:"ttl"`
	// RetryDelay is the pause between cache re-checks while another caller
	// is generating.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// WaitBudget bounds how long a caller waits on a contended generation
	// before surfacing the in-progress condition.
	WaitBudget time.Duration `yaml:"wait_budget"`
}

// TracingConfig holds feed tracing configuration.
type TracingConfig struct {
	Enabled bool `env:"FEED_TRACING_ENABLED" yaml:"enabled"`
	// ElasticsearchURL is the address of the trace sink cluster.
	ElasticsearchURL string `env:"TRACE_ES_URL" yaml:"elasticsearch_url"`
	// Index is the Elasticsearch index trace documents are written to.
	Index string `yaml:"index"`
	// BufferSize is the capacity of the async flush buffer; documents are
	// dropped (with a warning) when it is full.
	BufferSize int `yaml:"buffer_size"`
	// FlushTimeout bounds a single trace write.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// GetConfigPath returns the config file path, honouring the CONFIG_PATH
// environment variable.
func GetConfigPath(fallback string) string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return fallback
}

// Load reads the YAML config file at path, applies .env files and
// environment variable overrides, then fills in defaults.
// A missing config file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Run on defaults + environment only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, unmarshalErr)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in priority order: ENV_FILE if set,
// otherwise .env.local then .env. Missing files are ignored.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEED_ENGINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.Port = port
		}
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Service.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("FEED_ENGINE_SECRET"); v != "" {
		cfg.Service.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("RANKING_SERVICE_URL"); v != "" {
		cfg.Ranking.URL = v
	}
	if v := os.Getenv("FEED_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACE_ES_URL"); v != "" {
		cfg.Tracing.ElasticsearchURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddress
	}
	if cfg.Ranking.Timeout == 0 {
		cfg.Ranking.Timeout = defaultRankingTimeout
	}
	setFeedDefaults(&cfg.Feed)
	setLockDefaults(&cfg.Lock)
	setTracingDefaults(&cfg.Tracing)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLoggingLevel
	}
}

func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
}

func setFeedDefaults(feed *FeedConfig) {
	if feed.TTL == 0 {
		feed.TTL = defaultFeedTTL
	}
	if feed.StaleTTL == 0 {
		feed.StaleTTL = defaultStaleTTL
	}
	if feed.DefaultPageSize == 0 {
		feed.DefaultPageSize = defaultDefaultPageSize
	}
	if feed.MaxPageSize == 0 {
		feed.MaxPageSize = defaultMaxPageSize
	}
	if feed.ViewedWindow == 0 {
		feed.ViewedWindow = defaultViewedWindow
	}
}

func setLockDefaults(lock *LockConfig) {
	if lock.TTL == 0 {
		lock.TTL = defaultLockTTL
	}
	if lock.RetryDelay == 0 {
		lock.RetryDelay = defaultLockRetryDelay
	}
	if lock.WaitBudget == 0 {
		lock.WaitBudget = defaultLockWaitBudget
	}
}

func setTracingDefaults(tracing *TracingConfig) {
	if tracing.Index == "" {
		tracing.Index = defaultTraceIndex
	}
	if tracing.BufferSize == 0 {
		tracing.BufferSize = defaultTraceBufferSize
	}
	if tracing.FlushTimeout == 0 {
		tracing.FlushTimeout = defaultTraceFlushTimeout
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port %d is out of range", c.Service.Port)
	}
	if c.Service.JWTSecret == "" {
		return fmt.Errorf("service.jwt_secret is required")
	}
	if c.Ranking.URL == "" {
		return fmt.Errorf("ranking.url is required")
	}
	if c.Tracing.Enabled && c.Tracing.ElasticsearchURL == "" {
		return fmt.Errorf("tracing.elasticsearch_url is required when tracing is enabled")
	}
	return nil
}
