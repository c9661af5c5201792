// Package viewed tracks which items a user has already been shown, within a
// rolling window. The feed pipeline consults it for tracing and for the
// service-layer hide-viewed policy.
package viewed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository exposes the set of items a user has already seen.
type Repository interface {
	// GetViews returns the ids of items the user viewed within the window.
	GetViews(ctx context.Context, userID int64) ([]int64, error)
	// RecordViews marks items as viewed by the user at the current time.
	RecordViews(ctx context.Context, userID int64, itemIDs []int64) error
}

// RedisRepository stores views in a per-user sorted set scored by view time,
// trimmed to the configured window on every write.
type RedisRepository struct {
	client redis.UniversalClient
	window time.Duration
}

// NewRedisRepository creates a view repository with the given rolling window.
func NewRedisRepository(client redis.UniversalClient, window time.Duration) *RedisRepository {
	return &RedisRepository{client: client, window: window}
}

// GetViews returns item ids viewed within the rolling window, oldest first.
func (r *RedisRepository) GetViews(ctx context.Context, userID int64) ([]int64, error) {
	cutoff := time.Now().Add(-r.window).Unix()

	raw, err := r.client.ZRangeByScore(ctx, key(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read views: %w", err)
	}

	ids := make([]int64, 0, len(raw))
	for _, member := range raw {
		id, parseErr := strconv.ParseInt(member, 10, 64)
		if parseErr != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RecordViews stores the items as viewed now and trims entries older than
// the window. The whole set expires after one window of inactivity.
func (r *RedisRepository) RecordViews(ctx context.Context, userID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}

	now := time.Now()
	members := make([]redis.Z, len(itemIDs))
	for i, id := range itemIDs {
		members[i] = redis.Z{
			Score:  float64(now.Unix()),
			Member: strconv.FormatInt(id, 10),
		}
	}

	cutoff := strconv.FormatInt(now.Add(-r.window).Unix()-1, 10)

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key(userID), members...)
	pipe.ZRemRangeByScore(ctx, key(userID), "-inf", cutoff)
	pipe.Expire(ctx, key(userID), r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record views: %w", err)
	}
	return nil
}

func key(userID int64) string {
	return fmt.Sprintf("feed:views:%d", userID)
}
