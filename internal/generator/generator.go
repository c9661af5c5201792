// Package generator produces one ranked, de-duplication-free feed for a user
// from the ranking service.
package generator

import (
	"context"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/ranking"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/tracing"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/viewed"
)

// Generator turns a ranking service response into a presentation-ordered
// list of candidate items.
//
// The ranking service returns items relevance-ascending; the generator
// reverses them so the most relevant item comes first. That inversion is a
// contract of this package, not an accident of the upstream sort.
//
// Already-seen items are NOT removed here. Deduplication is a policy owned
// by the service layer; the generator only reports the viewed overlap to the
// tracer.
type Generator struct {
	ranking ranking.Client
	views   viewed.Repository
	tracers tracing.Factory
	log     logger.Logger
}

// New creates a Generator.
func New(
	rankingClient ranking.Client,
	views viewed.Repository,
	tracers tracing.Factory,
	log logger.Logger,
) *Generator {
	return &Generator{
		ranking: rankingClient,
		views:   views,
		tracers: tracers,
		log:     log,
	}
}

// GenerateFeed calls the ranking service and returns its items in
// presentation order. A ranking failure propagates as
// domain.ErrRankingUnavailable; no partial feed is synthesized. Tracing and
// viewed-set lookups are best-effort and never affect the result.
func (g *Generator) GenerateFeed(
	ctx context.Context,
	userID int64,
	hints string,
	loc domain.Location,
) ([]domain.CandidateItem, error) {
	tracer := g.tracers.Start(userID)
	defer tracer.Finalize(ctx)

	items, err := g.ranking.Rank(ctx, userID, hints, loc)
	if err != nil {
		return nil, err
	}
	tracer.RecordResponse(items)

	g.traceViewedOverlap(ctx, userID, items, tracer)

	ordered := invert(items)
	tracer.RecordFinalOrder(ordered)

	g.log.Info("Feed generated",
		logger.Int64("user_id", userID),
		logger.Int("items", len(ordered)),
	)

	return ordered, nil
}

// traceViewedOverlap reports the user's viewed set and its overlap with the
// recommendations. Lookup failures are logged and swallowed: this path is
// diagnostic only.
func (g *Generator) traceViewedOverlap(
	ctx context.Context,
	userID int64,
	items []domain.CandidateItem,
	tracer tracing.Tracer,
) {
	views, err := g.views.GetViews(ctx, userID)
	if err != nil {
		g.log.Warn("Viewed-item lookup failed during generation",
			logger.Int64("user_id", userID),
			logger.Error(err),
		)
		return
	}
	tracer.RecordViews(views)

	seen := make(map[int64]struct{}, len(views))
	for _, id := range views {
		seen[id] = struct{}{}
	}

	var overlap []int64
	for _, item := range items {
		if _, ok := seen[item.ItemID]; ok {
			overlap = append(overlap, item.ItemID)
		}
	}
	tracer.RecordViewedInFeed(overlap)
}

// invert reverses the relevance-ascending ranking response into
// presentation order, most relevant first.
func invert(items []domain.CandidateItem) []domain.CandidateItem {
	ordered := make([]domain.CandidateItem, len(items))
	for i, item := range items {
		ordered[len(items)-1-i] = item
	}
	return ordered
}
