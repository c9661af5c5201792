// feed-engine serves ML-ranked personal video feeds with cached pagination.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/api"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/cache"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/config"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/generator"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/handler"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/lock"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/metrics"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/ranking"
	redisclient "github.com/jonesrussell/vidcloud/feed-engine/internal/redis"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/refresh"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/service"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/tracing"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/viewed"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		log.Error("Failed to connect to Redis", logger.Error(err))
		return 1
	}
	defer func() { _ = redisClient.Close() }()

	log.Info("Redis connected", logger.String("address", cfg.Redis.Address))

	return runServer(cfg, log, redisClient)
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.GetConfigPath("config.yml"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("validate config: %w", validationErr)
	}
	return cfg, nil
}

// createLogger creates a logger instance from configuration.
func createLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Service.Debug,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", cfg.Service.Name)), nil
}

// setupTracing builds the tracer factory. When tracing is disabled the nop
// factory is returned and no Elasticsearch connection is made. The returned
// stop function drains buffered trace documents; ping is nil when tracing
// is off.
func setupTracing(cfg *config.Config, log logger.Logger) (tracing.Factory, func(), func() error, error) {
	if !cfg.Tracing.Enabled {
		return tracing.NopFactory{}, func() {}, nil, nil
	}

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Tracing.ElasticsearchURL},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	sink := tracing.NewElasticsearchSink(esClient, cfg.Tracing.Index)
	flusher := tracing.NewFlusher(sink, cfg.Tracing.BufferSize, cfg.Tracing.FlushTimeout, log)
	flusher.Start()

	ping := func() error {
		res, pingErr := esClient.Ping()
		if pingErr != nil {
			return pingErr
		}
		defer func() { _ = res.Body.Close() }()
		if res.IsError() {
			return fmt.Errorf("elasticsearch ping: %s", res.Status())
		}
		return nil
	}

	return tracing.NewRecordingFactory(flusher), flusher.Stop, ping, nil
}

// runServer creates all dependencies and starts the HTTP server.
func runServer(cfg *config.Config, log logger.Logger, redisClient *redis.Client) int {
	tracers, stopTracing, tracePing, err := setupTracing(cfg, log)
	if err != nil {
		log.Error("Failed to set up tracing", logger.Error(err))
		return 1
	}
	defer stopTracing()

	m := metrics.NewDefault()

	orderedCache := cache.New(redisClient, log)
	generationLock := lock.New(redisClient, cfg.Lock.TTL)
	views := viewed.NewRedisRepository(redisClient, cfg.Feed.ViewedWindow)
	rankingClient := ranking.NewHTTPClient(cfg.Ranking.URL, cfg.Ranking.Timeout, log)

	gen := generator.New(rankingClient, views, tracers, log)
	coordinator := refresh.New(orderedCache, generationLock, refresh.Config{
		FeedTTL:    cfg.Feed.TTL,
		StaleTTL:   cfg.Feed.StaleTTL,
		RetryDelay: cfg.Lock.RetryDelay,
		WaitBudget: cfg.Lock.WaitBudget,
	}, m, log)

	feeds := service.New(
		coordinator,
		orderedCache,
		gen,
		views,
		service.AllowAll{},
		service.StaticLocation{},
		cfg.Feed,
		m,
		log,
	)

	feedHandler := handler.NewFeedHandler(feeds, m, log)

	// done signals background goroutines (rate limiter) on shutdown
	done := make(chan struct{})
	defer close(done)

	server := api.NewServer(feedHandler, cfg, log, api.Dependencies{
		RedisPing: func() error {
			return redisClient.Ping(context.Background()).Err()
		},
		TracePing: tracePing,
	}, done)

	log.Info("Feed engine starting",
		logger.Int("port", cfg.Service.Port),
		logger.Bool("tracing", cfg.Tracing.Enabled),
	)

	if err := server.Run(context.Background()); err != nil {
		log.Error("Server error", logger.Error(err))
		return 1
	}

	log.Info("Feed engine exited cleanly")
	return 0
}
