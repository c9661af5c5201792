package api

import (
	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/config"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/handler"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/httpserver"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
)

// Dependencies holds the health check functions for external systems.
type Dependencies struct {
	// RedisPing verifies cache connectivity. Redis is critical: the feed
	// cannot be cached or paged without it.
	RedisPing func() error
	// TracePing verifies the trace sink. Nil when tracing is disabled.
	TracePing func() error
}

// NewServer builds the HTTP server with routes, health checks, and metrics.
func NewServer(
	feedHandler *handler.FeedHandler,
	cfg *config.Config,
	log logger.Logger,
	deps Dependencies,
	done <-chan struct{},
) *httpserver.Server {
	checks := map[string]httpserver.Checker{
		"redis": httpserver.PingChecker("Redis", true, deps.RedisPing),
	}
	if deps.TracePing != nil {
		checks["elasticsearch"] = httpserver.PingChecker("Elasticsearch", false, deps.TracePing)
	}

	opts := httpserver.Options{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Port:           cfg.Service.Port,
		Debug:          cfg.Service.Debug,
	}

	return httpserver.New(opts, log, func(router *gin.Engine) {
		httpserver.RegisterHealthRoutes(router, cfg.Service.Name, cfg.Service.Version, checks)
		SetupRoutes(router, feedHandler, cfg.Service.JWTSecret, done)
	})
}
