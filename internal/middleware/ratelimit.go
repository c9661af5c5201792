package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type callerEntry struct {
	count     int
	expiresAt time.Time
}

// RateLimiter limits requests per authenticated user within a time window.
// Unauthenticated requests fall back to the remote address as the key.
func RateLimiter(maxRequests int, window time.Duration, done <-chan struct{}) gin.HandlerFunc {
	var mu sync.Mutex
	entries := make(map[string]*callerEntry)

	// Background cleanup every window duration.
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu.Lock()
				now := time.Now()
				for key, entry := range entries {
					if now.After(entry.expiresAt) {
						delete(entries, key)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *gin.Context) {
		key := c.Request.RemoteAddr
		if userID, ok := UserID(c); ok {
			key = strconv.FormatInt(userID, 10)
		}

		mu.Lock()
		entry, exists := entries[key]
		now := time.Now()

		if !exists || now.After(entry.expiresAt) {
			entries[key] = &callerEntry{count: 1, expiresAt: now.Add(window)}
			mu.Unlock()
			c.Next()
			return
		}

		entry.count++
		if entry.count > maxRequests {
			mu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		mu.Unlock()
		c.Next()
	}
}
