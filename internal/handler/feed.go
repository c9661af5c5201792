// Package handler binds the personal feed HTTP surface to the feed service.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/metrics"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/middleware"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/ranking"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/service"
)

// VersionHeader carries the feed version token so clients can detect
// generation changes without parsing the body.
const VersionHeader = "X-Feed-Version"

// retryAfterSeconds is the hint returned while another caller's generation
// is still in flight.
const retryAfterSeconds = 2

// feedItem is one feed entry as returned to clients. Key is the opaque
// pagination cursor for this entry.
type feedItem struct {
	ID      int64    `json:"id"`
	OwnerID int64    `json:"owner_id"`
	Key     string   `json:"key"`
	Tags    []string `json:"tags,omitempty"`
}

// feedResponse is the personal feed page payload.
type feedResponse struct {
	Items   []feedItem `json:"items"`
	Version int64      `json:"version"`
	Stale   bool       `json:"stale,omitempty"`
}

// viewsRequest is the view-recording payload.
type viewsRequest struct {
	ItemIDs []int64 `json:"item_ids" binding:"required"`
}

// FeedHandler handles personal feed requests.
type FeedHandler struct {
	feeds   *service.FeedService
	metrics *metrics.Metrics
	logger  logger.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(feeds *service.FeedService, m *metrics.Metrics, log logger.Logger) *FeedHandler {
	return &FeedHandler{feeds: feeds, metrics: m, logger: log}
}

// GetFeed serves GET /feed?cursor=&count=&refresh=.
func (h *FeedHandler) GetFeed(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		h.metrics.FeedRequests.WithLabelValues("unauthorized").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown caller"})
		return
	}

	count := 0
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.metrics.FeedRequests.WithLabelValues("bad_request").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a non-negative integer"})
			return
		}
		count = parsed
	}

	_, forceRefresh := c.GetQuery("refresh")

	page, err := h.feeds.PersonalFeed(c.Request.Context(), service.Request{
		UserID:       userID,
		Cursor:       c.Query("cursor"),
		Count:        count,
		ForceRefresh: forceRefresh,
		Hints:        c.GetHeader(ranking.ExperimentsHeader),
	})
	if err != nil {
		h.respondError(c, userID, err)
		return
	}

	c.Header(VersionHeader, strconv.FormatInt(page.Version, 10))

	if len(page.Entries) == 0 {
		h.metrics.FeedRequests.WithLabelValues("empty").Inc()
		c.Status(http.StatusNoContent)
		return
	}

	h.metrics.FeedRequests.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, toResponse(page))
}

// PostViews serves POST /feed/views.
func (h *FeedHandler) PostViews(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown caller"})
		return
	}

	var req viewsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_ids is required"})
		return
	}

	if err := h.feeds.RecordViews(c.Request.Context(), userID, req.ItemIDs); err != nil {
		h.respondError(c, userID, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// respondError maps service errors onto HTTP statuses.
func (h *FeedHandler) respondError(c *gin.Context, userID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotActive):
		h.metrics.FeedRequests.WithLabelValues("forbidden").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "user is not active"})

	case errors.Is(err, domain.ErrGenerationInProgress):
		h.metrics.FeedRequests.WithLabelValues("in_progress").Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":       "feed is being generated",
			"retry_after": retryAfterSeconds,
		})

	case errors.Is(err, domain.ErrRankingUnavailable):
		h.metrics.FeedRequests.WithLabelValues("ranking_unavailable").Inc()
		h.logger.Error("Feed unavailable, ranking service down",
			logger.Int64("user_id", userID),
			logger.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed temporarily unavailable"})

	default:
		h.metrics.FeedRequests.WithLabelValues("error").Inc()
		h.logger.Error("Feed request failed",
			logger.Int64("user_id", userID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toResponse(page domain.Page) feedResponse {
	items := make([]feedItem, len(page.Entries))
	for i, entry := range page.Entries {
		items[i] = feedItem{
			ID:      entry.ItemID,
			OwnerID: entry.OwnerID,
			Key:     entry.Cursor(),
			Tags:    entry.Tags,
		}
	}
	return feedResponse{Items: items, Version: page.Version, Stale: page.Stale}
}
