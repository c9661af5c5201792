package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/cache"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/lock"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/metrics"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/refresh"
)

const testUserID = int64(21)

func newTestCoordinator(t *testing.T, cfg refresh.Config) (*refresh.Coordinator, *cache.OrderedCache, *lock.GenerationLock) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orderedCache := cache.New(client, logger.NewNop())
	generationLock := lock.New(client, 30*time.Second)
	m := metrics.New(prometheus.NewRegistry())

	return refresh.New(orderedCache, generationLock, cfg, m, logger.NewNop()), orderedCache, generationLock
}

func defaultConfig() refresh.Config {
	return refresh.Config{
		FeedTTL:    30 * time.Minute,
		StaleTTL:   24 * time.Hour,
		RetryDelay: 10 * time.Millisecond,
		WaitBudget: time.Second,
	}
}

func staticGenerate(items []domain.CandidateItem) refresh.GenerateFunc {
	return func(context.Context) ([]domain.CandidateItem, error) {
		return items, nil
	}
}

func TestGetOrGenerateMissGenerates(t *testing.T) {
	coordinator, orderedCache, _ := newTestCoordinator(t, defaultConfig())
	ctx := context.Background()

	items := []domain.CandidateItem{{ItemID: 1}, {ItemID: 2}}

	version, fresh, err := coordinator.GetOrGenerate(ctx, testUserID, staticGenerate(items))
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, int64(1), version)

	entries, _, err := orderedCache.GetPage(ctx, testUserID, "", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGetOrGenerateHitSkipsGeneration(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, defaultConfig())
	ctx := context.Background()

	var calls atomic.Int32
	generate := func(context.Context) ([]domain.CandidateItem, error) {
		calls.Add(1)
		return []domain.CandidateItem{{ItemID: 1}}, nil
	}

	first, fresh, err := coordinator.GetOrGenerate(ctx, testUserID, generate)
	require.NoError(t, err)
	require.True(t, fresh)

	second, fresh, err := coordinator.GetOrGenerate(ctx, testUserID, generate)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrGenerateConcurrentCallersRunOneGeneration(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, defaultConfig())
	ctx := context.Background()

	var calls atomic.Int32
	generate := func(context.Context) ([]domain.CandidateItem, error) {
		calls.Add(1)
		// Long enough for the other callers to pile up on the lock.
		time.Sleep(50 * time.Millisecond)
		return []domain.CandidateItem{{ItemID: 1}}, nil
	}

	const callers = 8
	versions := make([]int64, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			versions[i], _, errs[i] = coordinator.GetOrGenerate(ctx, testUserID, generate)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "exactly one caller generates")
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, versions[0], versions[i])
	}
}

func TestGetOrGenerateWaitBudgetExhausted(t *testing.T) {
	cfg := defaultConfig()
	cfg.WaitBudget = 50 * time.Millisecond
	coordinator, _, generationLock := newTestCoordinator(t, cfg)
	ctx := context.Background()

	// A holder that never finishes and never fills the cache.
	_, acquired, err := generationLock.TryAcquire(ctx, testUserID)
	require.NoError(t, err)
	require.True(t, acquired)

	_, _, err = coordinator.GetOrGenerate(ctx, testUserID, staticGenerate(nil))
	assert.ErrorIs(t, err, domain.ErrGenerationInProgress)
}

func TestGetOrGenerateFailureReleasesLock(t *testing.T) {
	coordinator, _, generationLock := newTestCoordinator(t, defaultConfig())
	ctx := context.Background()

	genErr := errors.New("ranking exploded")
	_, _, err := coordinator.GetOrGenerate(ctx, testUserID, func(context.Context) ([]domain.CandidateItem, error) {
		return nil, genErr
	})
	require.ErrorIs(t, err, genErr)

	held, err := generationLock.IsHeld(ctx, testUserID)
	require.NoError(t, err)
	assert.False(t, held, "lease released after a failed generation")

	// The next caller can generate immediately.
	_, fresh, err := coordinator.GetOrGenerate(ctx, testUserID, staticGenerate([]domain.CandidateItem{{ItemID: 1}}))
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestGetOrGenerateContextCancelledWhileWaiting(t *testing.T) {
	coordinator, _, generationLock := newTestCoordinator(t, defaultConfig())

	_, acquired, err := generationLock.TryAcquire(context.Background(), testUserID)
	require.NoError(t, err)
	require.True(t, acquired)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err = coordinator.GetOrGenerate(ctx, testUserID, staticGenerate(nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvalidateForcesRegeneration(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, defaultConfig())
	ctx := context.Background()

	v1, _, err := coordinator.GetOrGenerate(ctx, testUserID, staticGenerate([]domain.CandidateItem{{ItemID: 1}}))
	require.NoError(t, err)

	require.NoError(t, coordinator.Invalidate(ctx, testUserID))

	v2, fresh, err := coordinator.GetOrGenerate(ctx, testUserID, staticGenerate([]domain.CandidateItem{{ItemID: 2}}))
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Greater(t, v2, v1)
}
