package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/middleware"
)

func newRateLimitedRouter(t *testing.T, maxRequests int, window time.Duration) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	router := gin.New()
	router.Use(middleware.RateLimiter(maxRequests, window, done))
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func ping(router *gin.Engine, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	router := newRateLimitedRouter(t, 3, time.Minute)

	for range 3 {
		assert.Equal(t, http.StatusOK, ping(router, "10.0.0.1:1234"))
	}
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	router := newRateLimitedRouter(t, 2, time.Minute)

	assert.Equal(t, http.StatusOK, ping(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, ping(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, ping(router, "10.0.0.1:1234"))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	router := newRateLimitedRouter(t, 1, time.Minute)

	assert.Equal(t, http.StatusOK, ping(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, ping(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, ping(router, "10.0.0.2:1234"))
}

func TestRateLimiterWindowResets(t *testing.T) {
	router := newRateLimitedRouter(t, 1, 30*time.Millisecond)

	assert.Equal(t, http.StatusOK, ping(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, ping(router, "10.0.0.1:1234"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, http.StatusOK, ping(router, "10.0.0.1:1234"))
}
