// Package api wires handlers, middleware, and the HTTP server together.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/handler"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/middleware"
)

// Rate limit applied to the personal feed endpoints, per caller.
const (
	maxRequestsPerWindow = 120
	rateLimitWindow      = time.Minute
)

// SetupRoutes configures all API routes. Health routes are registered by
// the server setup alongside these.
func SetupRoutes(
	router *gin.Engine,
	feedHandler *handler.FeedHandler,
	jwtSecret string,
	done <-chan struct{},
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	feed := router.Group("/api/v1")
	feed.Use(middleware.Auth(jwtSecret))
	feed.Use(middleware.RateLimiter(maxRequestsPerWindow, rateLimitWindow, done))
	feed.GET("/feed", feedHandler.GetFeed)
	feed.POST("/feed/views", feedHandler.PostViews)
}
