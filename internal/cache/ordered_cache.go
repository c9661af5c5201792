// Package cache stores generated feeds as versioned ordered collections in
// Redis and serves stable cursor-based pages from them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
)

// ttlSpreadFraction is the fraction of the TTL added as random jitter so
// feeds generated in the same burst do not expire in the same instant.
const ttlSpreadFraction = 10

// generationMeta is the metadata record stored alongside each generation.
type generationMeta struct {
	Version     int64     `json:"version"`
	Count       int       `json:"count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// fallbackFeed is the serialized last-known-good copy.
type fallbackFeed struct {
	Version int64              `json:"version"`
	Entries []domain.FeedEntry `json:"entries"`
}

// OrderedCache stores one cached feed per user and serves pages with
// inclusive-cursor semantics. A feed is never partially mutated: Put
// replaces the previous generation wholesale.
type OrderedCache struct {
	client redis.UniversalClient
	log    logger.Logger
}

// New creates an OrderedCache on the given Redis client.
func New(client redis.UniversalClient, log logger.Logger) *OrderedCache {
	return &OrderedCache{client: client, log: log}
}

// Put stores items as the user's new feed generation and returns the entries
// with their assigned sort keys plus the new version token. Keys are assigned
// in generation order: the first item receives the highest key, so pages read
// in descending key order match presentation order. The previous generation
// is deleted; the fallback copy is refreshed with the stale TTL.
func (c *OrderedCache) Put(
	ctx context.Context,
	userID int64,
	items []domain.CandidateItem,
	ttl time.Duration,
	staleTTL time.Duration,
) ([]domain.FeedEntry, int64, error) {
	version, err := c.client.Incr(ctx, versionKey(userID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("bump feed version: %w", err)
	}

	entries := make([]domain.FeedEntry, len(items))
	members := make([]redis.Z, len(items))
	for i, item := range items {
		pos := int64(len(items) - 1 - i)
		entries[i] = domain.FeedEntry{
			CandidateItem: item,
			SortKey:       domain.SortKey(version, pos),
		}
		payload, marshalErr := json.Marshal(entries[i])
		if marshalErr != nil {
			return nil, 0, fmt.Errorf("marshal feed entry: %w", marshalErr)
		}
		members[i] = redis.Z{Score: float64(entries[i].SortKey), Member: string(payload)}
	}

	meta := generationMeta{
		Version:     version,
		Count:       len(entries),
		GeneratedAt: time.Now().UTC(),
	}
	metaPayload, err := json.Marshal(meta)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal feed meta: %w", err)
	}

	fallbackPayload, err := json.Marshal(fallbackFeed{Version: version, Entries: entries})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal fallback feed: %w", err)
	}

	expiration := spread(ttl)

	pipe := c.client.TxPipeline()
	if len(members) > 0 {
		pipe.ZAdd(ctx, entriesKey(userID, version), members...)
		pipe.Expire(ctx, entriesKey(userID, version), expiration)
	}
	pipe.Set(ctx, metaKey(userID, version), metaPayload, expiration)
	pipe.Set(ctx, fallbackKey(userID), fallbackPayload, staleTTL)
	// Supersede the previous generation immediately instead of waiting for
	// its TTL.
	pipe.Del(ctx, entriesKey(userID, version-1), metaKey(userID, version-1))

	if _, err = pipe.Exec(ctx); err != nil {
		return nil, 0, fmt.Errorf("store feed generation: %w", err)
	}

	c.log.Info("Feed generation cached",
		logger.Int64("user_id", userID),
		logger.Int64("version", version),
		logger.Int("entries", len(entries)),
		logger.Duration("ttl", expiration),
	)

	return entries, version, nil
}

// GetPage serves one page of the user's cached feed. An empty cursor returns
// the first count entries. A cursor equal to a stored entry's key returns
// that entry first (inclusive-cursor semantics) followed by up to count-1
// subsequent entries. A cursor that matches no stored entry yields
// domain.ErrCursorNotFound; an absent or expired feed yields
// domain.ErrFeedMissing.
func (c *OrderedCache) GetPage(
	ctx context.Context,
	userID int64,
	cursor string,
	count int,
) ([]domain.FeedEntry, int64, error) {
	meta, err := c.meta(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if meta.Count == 0 || count <= 0 {
		return nil, meta.Version, nil
	}

	key := entriesKey(userID, meta.Version)
	upper := "+inf"

	if cursor != "" {
		sortKey, ok := domain.ParseCursor(cursor)
		if !ok {
			return nil, 0, domain.ErrCursorNotFound
		}
		bound := strconv.FormatInt(sortKey, 10)
		matches, countErr := c.client.ZCount(ctx, key, bound, bound).Result()
		if countErr != nil {
			return nil, 0, fmt.Errorf("validate cursor: %w", countErr)
		}
		if matches == 0 {
			return nil, 0, domain.ErrCursorNotFound
		}
		upper = bound
	}

	raw, err := c.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    upper,
		Offset: 0,
		Count:  int64(count),
	}).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("read feed page: %w", err)
	}

	entries := make([]domain.FeedEntry, 0, len(raw))
	for _, member := range raw {
		var entry domain.FeedEntry
		if unmarshalErr := json.Unmarshal([]byte(member), &entry); unmarshalErr != nil {
			return nil, 0, fmt.Errorf("unmarshal feed entry: %w", unmarshalErr)
		}
		entries = append(entries, entry)
	}

	return entries, meta.Version, nil
}

// Has reports whether a live generation exists for the user and returns its
// version token when it does.
func (c *OrderedCache) Has(ctx context.Context, userID int64) (int64, bool, error) {
	meta, err := c.meta(ctx, userID)
	if errors.Is(err, domain.ErrFeedMissing) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return meta.Version, true, nil
}

// Invalidate removes the user's live generation. The fallback copy is kept:
// invalidation forces a regeneration, not a loss of degraded-mode data.
func (c *OrderedCache) Invalidate(ctx context.Context, userID int64) error {
	version, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read feed version: %w", err)
	}

	if err := c.client.Del(ctx, entriesKey(userID, version), metaKey(userID, version)).Err(); err != nil {
		return fmt.Errorf("invalidate feed: %w", err)
	}
	return nil
}

// GetStale returns the last-known-good copy of the user's feed, which may
// belong to an expired generation. Callers must surface its staleness.
func (c *OrderedCache) GetStale(ctx context.Context, userID int64) ([]domain.FeedEntry, int64, error) {
	raw, err := c.client.Get(ctx, fallbackKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, domain.ErrFeedMissing
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read fallback feed: %w", err)
	}

	var fallback fallbackFeed
	if err := json.Unmarshal(raw, &fallback); err != nil {
		return nil, 0, fmt.Errorf("unmarshal fallback feed: %w", err)
	}
	return fallback.Entries, fallback.Version, nil
}

// meta loads the metadata of the user's current generation.
func (c *OrderedCache) meta(ctx context.Context, userID int64) (generationMeta, error) {
	version, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return generationMeta{}, domain.ErrFeedMissing
	}
	if err != nil {
		return generationMeta{}, fmt.Errorf("read feed version: %w", err)
	}

	raw, err := c.client.Get(ctx, metaKey(userID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return generationMeta{}, domain.ErrFeedMissing
	}
	if err != nil {
		return generationMeta{}, fmt.Errorf("read feed meta: %w", err)
	}

	var meta generationMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return generationMeta{}, fmt.Errorf("unmarshal feed meta: %w", err)
	}
	return meta, nil
}

// spread adds up to 1/ttlSpreadFraction of jitter to the TTL.
func spread(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	jitter := int64(ttl) / ttlSpreadFraction
	if jitter == 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int64N(jitter))
}
