package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/cache"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/config"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/generator"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/lock"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/metrics"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/refresh"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/service"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/tracing"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/viewed"
)

const testUserID = int64(77)

// scriptedRanking replays a fixed response and counts calls. Setting fail
// makes every call report the ranking service as unavailable.
type scriptedRanking struct {
	items []domain.CandidateItem
	fail  bool
	calls int
}

func (s *scriptedRanking) Rank(_ context.Context, _ int64, _ string, _ domain.Location) ([]domain.CandidateItem, error) {
	s.calls++
	if s.fail {
		return nil, fmt.Errorf("%w: scripted failure", domain.ErrRankingUnavailable)
	}
	return s.items, nil
}

// deniedPermissions rejects every caller.
type deniedPermissions struct{}

func (deniedPermissions) EnsureActive(context.Context, int64) error {
	return domain.ErrUserNotActive
}

type fixture struct {
	service *service.FeedService
	ranking *scriptedRanking
	cache   *cache.OrderedCache
	redis   *miniredis.Miniredis
}

func feedConfig() config.FeedConfig {
	return config.FeedConfig{
		TTL:               30 * time.Minute,
		StaleTTL:          24 * time.Hour,
		DefaultPageSize:   20,
		MaxPageSize:       100,
		ViewedWindow:      7 * 24 * time.Hour,
		ServeStaleOnError: true,
	}
}

func newFixture(t *testing.T, cfg config.FeedConfig, permissions service.PermissionChecker) *fixture {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	rankingStub := &scriptedRanking{items: rankedItems(10)}
	orderedCache := cache.New(client, log)
	views := viewed.NewRedisRepository(client, cfg.ViewedWindow)
	gen := generator.New(rankingStub, views, tracing.NopFactory{}, log)
	coordinator := refresh.New(orderedCache, lock.New(client, 30*time.Second), refresh.Config{
		FeedTTL:    cfg.TTL,
		StaleTTL:   cfg.StaleTTL,
		RetryDelay: 10 * time.Millisecond,
		WaitBudget: time.Second,
	}, m, log)

	feeds := service.New(
		coordinator,
		orderedCache,
		gen,
		views,
		permissions,
		service.StaticLocation{},
		cfg,
		m,
		log,
	)

	return &fixture{service: feeds, ranking: rankingStub, cache: orderedCache, redis: srv}
}

// rankedItems builds a relevance-ascending ranking response: the last item
// is the most relevant and must be presented first.
func rankedItems(n int) []domain.CandidateItem {
	items := make([]domain.CandidateItem, n)
	for i := range items {
		items[i] = domain.CandidateItem{ItemID: int64(i + 1), Rank: int64(i)}
	}
	return items
}

func TestPersonalFeedFirstPageIsInvertedRanking(t *testing.T) {
	f := newFixture(t, feedConfig(), service.AllowAll{})
	ctx := context.Background()

	page, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 4})
	require.NoError(t, err)
	require.Len(t, page.Entries, 4)
	assert.False(t, page.Stale)

	// Ranking returned items 1..10 ascending, so the page starts at 10.
	for i, entry := range page.Entries {
		assert.Equal(t, int64(10-i), entry.ItemID)
	}
}

func TestPersonalFeedSingleGenerationAcrossPages(t *testing.T) {
	f := newFixture(t, feedConfig(), service.AllowAll{})
	ctx := context.Background()

	page, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 4})
	require.NoError(t, err)
	version := page.Version

	for range 2 {
		cursor := page.Entries[len(page.Entries)-1].Cursor()
		page, err = f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Cursor: cursor, Count: 4})
		require.NoError(t, err)
		assert.Equal(t, version, page.Version, "paging never regenerates")
	}

	assert.Equal(t, 1, f.ranking.calls, "one ranking call serves all pages")
}

func TestPersonalFeedInclusiveCursor(t *testing.T) {
	f := newFixture(t, feedConfig(), service.AllowAll{})
	ctx := context.Background()

	first, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 3})
	require.NoError(t, err)
	cursor := first.Entries[len(first.Entries)-1].Cursor()

	second, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Cursor: cursor, Count: 3})
	require.NoError(t, err)
	require.NotEmpty(t, second.Entries)
	assert.Equal(t, cursor, second.Entries[0].Cursor(), "cursor entry included in its page")
}

func TestPersonalFeedStaleCursorRestartsPagination(t *testing.T) {
	f := newFixture(t, feedConfig(), service.AllowAll{})
	ctx := context.Background()

	first, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 3})
	require.NoError(t, err)
	oldCursor := first.Entries[len(first.Entries)-1].Cursor()

	// Force a new generation; the old cursor now belongs to nothing.
	refreshed, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 3, ForceRefresh: true})
	require.NoError(t, err)
	require.Greater(t, refreshed.Version, first.Version)

	page, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Cursor: oldCursor, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, refreshed.Version, page.Version)
	// Restarted from the top rather than erroring.
	assert.Equal(t, refreshed.Entries[0].ItemID, page.Entries[0].ItemID)
}

func TestPersonalFeedForceRefreshRegenerates(t *testing.T) {
	f := newFixture(t, feedConfig(), service.AllowAll{})
	ctx := context.Background()

	first, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID})
	require.NoError(t, err)

	second, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, ForceRefresh: true})
	require.NoError(t, err)

	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, 2, f.ranking.calls)
}

func TestPersonalFeedExpiredFeedRegeneratesTransparently(t *testing.T) {
	cfg := feedConfig()
	f := newFixture(t, cfg, service.AllowAll{})
	ctx := context.Background()

	first, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 3})
	require.NoError(t, err)
	cursor := first.Entries[len(first.Entries)-1].Cursor()

	f.redis.FastForward(cfg.TTL * 2)

	// The feed expired between cursor calls: no error, pagination restarts
	// from the first page of a fresh generation.
	page, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Cursor: cursor, Count: 3})
	require.NoError(t, err)
	assert.Greater(t, page.Version, first.Version)
	assert.Equal(t, first.Entries[0].ItemID, page.Entries[0].ItemID)
	assert.Equal(t, 2, f.ranking.calls)
}

func TestPersonalFeedInactiveUser(t *testing.T) {
	f := newFixture(t, feedConfig(), deniedPermissions{})

	_, err := f.service.PersonalFeed(context.Background(), service.Request{UserID: testUserID})
	assert.ErrorIs(t, err, domain.ErrUserNotActive)
	assert.Zero(t, f.ranking.calls)
}

func TestPersonalFeedRankingDownNoFallback(t *testing.T) {
	f := newFixture(t, feedConfig(), service.AllowAll{})
	f.ranking.fail = true
	ctx := context.Background()

	_, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID})
	assert.ErrorIs(t, err, domain.ErrRankingUnavailable)

	// A failed generation caches nothing.
	_, ok, err := f.cache.Has(ctx, testUserID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersonalFeedServesStaleWhenRankingDown(t *testing.T) {
	cfg := feedConfig()
	f := newFixture(t, cfg, service.AllowAll{})
	ctx := context.Background()

	// A successful generation leaves a long-lived fallback copy behind.
	live, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 5})
	require.NoError(t, err)

	// The live generation expires, the fallback survives, ranking dies.
	f.redis.FastForward(cfg.TTL * 2)
	f.ranking.fail = true

	page, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 5})
	require.NoError(t, err)
	assert.True(t, page.Stale)
	assert.Equal(t, live.Version, page.Version)
	require.Len(t, page.Entries, 5)
	assert.Equal(t, live.Entries[0].ItemID, page.Entries[0].ItemID)
}

func TestPersonalFeedStaleDisabledByPolicy(t *testing.T) {
	cfg := feedConfig()
	cfg.ServeStaleOnError = false
	f := newFixture(t, cfg, service.AllowAll{})
	ctx := context.Background()

	_, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID})
	require.NoError(t, err)

	f.redis.FastForward(cfg.TTL * 2)
	f.ranking.fail = true

	_, err = f.service.PersonalFeed(ctx, service.Request{UserID: testUserID})
	assert.ErrorIs(t, err, domain.ErrRankingUnavailable)
}

func TestPersonalFeedCountNormalization(t *testing.T) {
	cfg := feedConfig()
	cfg.DefaultPageSize = 3
	cfg.MaxPageSize = 5
	f := newFixture(t, cfg, service.AllowAll{})
	ctx := context.Background()

	page, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3, "zero count uses the default page size")

	page, err = f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 50})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 5, "count capped at the max page size")
}

func TestPersonalFeedHideViewedPolicy(t *testing.T) {
	cfg := feedConfig()
	cfg.HideViewed = true
	f := newFixture(t, cfg, service.AllowAll{})
	ctx := context.Background()

	require.NoError(t, f.service.RecordViews(ctx, testUserID, []int64{9, 10}))

	page, err := f.service.PersonalFeed(ctx, service.Request{UserID: testUserID, Count: 20})
	require.NoError(t, err)
	require.Len(t, page.Entries, 8)
	for _, entry := range page.Entries {
		assert.NotContains(t, []int64{9, 10}, entry.ItemID)
	}
}

func TestRecordViewsRequiresActiveUser(t *testing.T) {
	f := newFixture(t, feedConfig(), deniedPermissions{})

	err := f.service.RecordViews(context.Background(), testUserID, []int64{1})
	assert.ErrorIs(t, err, domain.ErrUserNotActive)
}
