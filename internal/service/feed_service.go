// Package service is the personal feed façade: it resolves caller context,
// delegates the cache-or-generate decision to the refresh coordinator, and
// shapes the paginated response.
package service

import (
	"context"
	"errors"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/cache"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/config"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/generator"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/metrics"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/refresh"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/viewed"
)

// Request is one personal feed page request.
type Request struct {
	UserID int64
	// Cursor is a key from a previously returned entry, or empty for the
	// first page. Cursor continuity is guaranteed only within a generation.
	Cursor string
	Count  int
	// ForceRefresh drops the live generation before serving.
	ForceRefresh bool
	// Hints is the caller's experiments header, forwarded to ranking.
	Hints string
}

// FeedService serves stable, paginated personal feeds.
type FeedService struct {
	coordinator *refresh.Coordinator
	cache       *cache.OrderedCache
	generator   *generator.Generator
	views       viewed.Repository
	permissions PermissionChecker
	locations   LocationProvider
	cfg         config.FeedConfig
	metrics     *metrics.Metrics
	log         logger.Logger
}

// New creates a FeedService.
func New(
	coordinator *refresh.Coordinator,
	orderedCache *cache.OrderedCache,
	gen *generator.Generator,
	views viewed.Repository,
	permissions PermissionChecker,
	locations LocationProvider,
	cfg config.FeedConfig,
	m *metrics.Metrics,
	log logger.Logger,
) *FeedService {
	return &FeedService{
		coordinator: coordinator,
		cache:       orderedCache,
		generator:   gen,
		views:       views,
		permissions: permissions,
		locations:   locations,
		cfg:         cfg,
		metrics:     m,
		log:         log,
	}
}

// PersonalFeed returns one page of the caller's feed. A cursor from a
// superseded generation restarts pagination from the first page instead of
// erroring. When the ranking service is down and no live feed exists, the
// last-known-good copy is substituted if the deployment allows it.
func (s *FeedService) PersonalFeed(ctx context.Context, req Request) (domain.Page, error) {
	if err := s.permissions.EnsureActive(ctx, req.UserID); err != nil {
		return domain.Page{}, err
	}

	count := s.normalizeCount(req.Count)

	if req.ForceRefresh {
		if err := s.coordinator.Invalidate(ctx, req.UserID); err != nil {
			return domain.Page{}, err
		}
		// A forced refresh invalidates the caller's cursor along with the
		// generation it belonged to.
		req.Cursor = ""
	}

	if _, _, err := s.ensureFeed(ctx, req); err != nil {
		if errors.Is(err, domain.ErrRankingUnavailable) && s.cfg.ServeStaleOnError {
			return s.serveStale(ctx, req.UserID, req.Cursor, count, err)
		}
		return domain.Page{}, err
	}

	return s.page(ctx, req, count)
}

// RecordViews marks items as seen by the user.
func (s *FeedService) RecordViews(ctx context.Context, userID int64, itemIDs []int64) error {
	if err := s.permissions.EnsureActive(ctx, userID); err != nil {
		return err
	}
	return s.views.RecordViews(ctx, userID, itemIDs)
}

// ensureFeed guarantees a live generation exists, producing one if needed.
func (s *FeedService) ensureFeed(ctx context.Context, req Request) (int64, bool, error) {
	return s.coordinator.GetOrGenerate(ctx, req.UserID, func(genCtx context.Context) ([]domain.CandidateItem, error) {
		loc, err := s.locations.Current(genCtx)
		if err != nil {
			return nil, err
		}

		items, err := s.generator.GenerateFeed(genCtx, req.UserID, req.Hints, loc)
		if err != nil {
			return nil, err
		}

		if s.cfg.HideViewed {
			items = s.filterViewed(genCtx, req.UserID, items)
		}
		return items, nil
	})
}

// page reads one page from the cache, transparently restarting pagination
// when the cursor belongs to a generation that no longer exists.
func (s *FeedService) page(ctx context.Context, req Request, count int) (domain.Page, error) {
	entries, version, err := s.cache.GetPage(ctx, req.UserID, req.Cursor, count)

	if errors.Is(err, domain.ErrCursorNotFound) {
		s.metrics.CursorRestarts.Inc()
		s.log.Info("Cursor from superseded generation, restarting pagination",
			logger.Int64("user_id", req.UserID),
			logger.String("cursor", req.Cursor),
		)
		entries, version, err = s.cache.GetPage(ctx, req.UserID, "", count)
	}

	if errors.Is(err, domain.ErrFeedMissing) {
		// The feed expired between the coordinator check and the page read.
		// Resolve once more; the coordinator regenerates if needed.
		if _, _, ensureErr := s.ensureFeed(ctx, req); ensureErr != nil {
			return domain.Page{}, ensureErr
		}
		entries, version, err = s.cache.GetPage(ctx, req.UserID, "", count)
	}

	if err != nil {
		return domain.Page{}, err
	}

	if len(entries) == 0 {
		s.log.Warn("Empty feed page",
			logger.Int64("user_id", req.UserID),
			logger.String("cursor", req.Cursor),
			logger.Int("count", count),
		)
	}

	return domain.Page{Entries: entries, Version: version}, nil
}

// serveStale substitutes the last-known-good copy for a failed generation.
// The substitution is explicit deployment policy (cfg.ServeStaleOnError).
func (s *FeedService) serveStale(
	ctx context.Context,
	userID int64,
	cursor string,
	count int,
	cause error,
) (domain.Page, error) {
	entries, version, err := s.cache.GetStale(ctx, userID)
	if err != nil {
		// No fallback either: surface the original failure.
		return domain.Page{}, cause
	}

	s.metrics.StaleServed.Inc()
	s.log.Warn("Serving stale feed, ranking unavailable",
		logger.Int64("user_id", userID),
		logger.Int64("version", version),
		logger.Error(cause),
	)

	return domain.Page{
		Entries: paginate(entries, cursor, count),
		Version: version,
		Stale:   true,
	}, nil
}

// filterViewed drops already-seen items before caching. A lookup failure
// falls back to the unfiltered feed; hiding viewed items is best-effort.
func (s *FeedService) filterViewed(
	ctx context.Context,
	userID int64,
	items []domain.CandidateItem,
) []domain.CandidateItem {
	views, err := s.views.GetViews(ctx, userID)
	if err != nil {
		s.log.Warn("Viewed-item lookup failed, serving unfiltered feed",
			logger.Int64("user_id", userID),
			logger.Error(err),
		)
		return items
	}
	if len(views) == 0 {
		return items
	}

	seen := make(map[int64]struct{}, len(views))
	for _, id := range views {
		seen[id] = struct{}{}
	}

	kept := items[:0]
	for _, item := range items {
		if _, ok := seen[item.ItemID]; !ok {
			kept = append(kept, item)
		}
	}
	return kept
}

func (s *FeedService) normalizeCount(count int) int {
	if count <= 0 {
		return s.cfg.DefaultPageSize
	}
	if count > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return count
}

// paginate applies the inclusive-cursor page semantics to an in-memory
// entry list (used for the stale fallback copy). An unknown cursor restarts
// from the beginning.
func paginate(entries []domain.FeedEntry, cursor string, count int) []domain.FeedEntry {
	start := 0
	if cursor != "" {
		for i, entry := range entries {
			if entry.Cursor() == cursor {
				start = i
				break
			}
		}
	}

	end := start + count
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}
