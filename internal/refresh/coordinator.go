// Package refresh owns the cache-or-generate decision for personal feeds.
// The coordinator is a stateless orchestrator over injected collaborators:
// all shared mutable state lives behind the cache and the generation lock,
// both keyed strictly by user id.
package refresh

import (
	"context"
	"time"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/cache"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/lock"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/metrics"
)

// GenerateFunc produces a fresh presentation-ordered feed for a user. It is
// the expensive, rate-limited operation the coordinator guards.
type GenerateFunc func(ctx context.Context) ([]domain.CandidateItem, error)

// Config holds the coordinator's timing knobs.
type Config struct {
	// FeedTTL is the lifetime of a stored generation.
	FeedTTL time.Duration
	// StaleTTL is the lifetime of the fallback copy written on Put.
	StaleTTL time.Duration
	// RetryDelay is the pause between cache re-checks while another caller
	// holds the generation lock.
	RetryDelay time.Duration
	// WaitBudget bounds the total wait on a contended generation.
	WaitBudget time.Duration
}

// Coordinator enforces at most one in-flight generation per user across all
// process instances.
type Coordinator struct {
	cache   *cache.OrderedCache
	lock    *lock.GenerationLock
	cfg     Config
	metrics *metrics.Metrics
	log     logger.Logger
}

// New creates a Coordinator.
func New(
	orderedCache *cache.OrderedCache,
	generationLock *lock.GenerationLock,
	cfg Config,
	m *metrics.Metrics,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		cache:   orderedCache,
		lock:    generationLock,
		cfg:     cfg,
		metrics: m,
		log:     log,
	}
}

// GetOrGenerate returns the version of a live cached feed for the user,
// generating one first if none exists. fresh reports whether this call ran
// the generation. Exactly one concurrent caller per user executes generate;
// the others observe its outcome through the cache or, past the wait budget,
// receive domain.ErrGenerationInProgress.
func (c *Coordinator) GetOrGenerate(
	ctx context.Context,
	userID int64,
	generate GenerateFunc,
) (version int64, fresh bool, err error) {
	version, ok, err := c.cache.Has(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if ok {
		c.metrics.CacheHits.Inc()
		return version, false, nil
	}
	c.metrics.CacheMisses.Inc()

	deadline := time.Now().Add(c.cfg.WaitBudget)
	for {
		lease, acquired, acquireErr := c.lock.TryAcquire(ctx, userID)
		if acquireErr != nil {
			return 0, false, acquireErr
		}
		if acquired {
			return c.generateLocked(ctx, userID, lease, generate)
		}

		// Another caller is generating. Wait briefly and re-read the cache
		// rather than duplicating the expensive ranking call.
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}

		version, ok, err = c.cache.Has(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return version, false, nil
		}
		if time.Now().After(deadline) {
			c.log.Warn("Generation wait budget exhausted",
				logger.Int64("user_id", userID),
				logger.Duration("budget", c.cfg.WaitBudget),
			)
			return 0, false, domain.ErrGenerationInProgress
		}
	}
}

// generateLocked runs the generation while holding the lease. The lease is
// released on every exit path; its TTL covers the crash case.
func (c *Coordinator) generateLocked(
	ctx context.Context,
	userID int64,
	lease lock.Lease,
	generate GenerateFunc,
) (version int64, fresh bool, err error) {
	defer func() {
		if releaseErr := c.lock.Release(ctx, lease); releaseErr != nil {
			c.log.Warn("Generation lock release failed",
				logger.Int64("user_id", userID),
				logger.Error(releaseErr),
			)
		}
	}()

	// Double-check: another instance may have finished a generation between
	// our cache miss and the lock acquisition.
	version, ok, err := c.cache.Has(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if ok {
		c.metrics.CacheHits.Inc()
		return version, false, nil
	}

	start := time.Now()
	items, err := generate(ctx)
	if err != nil {
		c.metrics.GenerationFailures.Inc()
		return 0, false, err
	}

	_, version, err = c.cache.Put(ctx, userID, items, c.cfg.FeedTTL, c.cfg.StaleTTL)
	if err != nil {
		return 0, false, err
	}
	c.metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	return version, true, nil
}

// Invalidate drops the user's live generation so the next request
// regenerates.
func (c *Coordinator) Invalidate(ctx context.Context, userID int64) error {
	return c.cache.Invalidate(ctx, userID)
}
