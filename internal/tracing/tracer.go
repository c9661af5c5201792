// Package tracing records every intermediate decision of a feed generation
// for offline analysis. Tracing is diagnostic only: a tracer call must never
// fail or delay the feed request it observes.
package tracing

import (
	"context"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
)

// Tracer accumulates the stages of one feed generation. Record calls may
// arrive in any order between Start (factory) and Finalize; Finalize hands
// the accumulated document to durable storage asynchronously.
type Tracer interface {
	// RecordResponse captures the raw ranking service response.
	RecordResponse(items []domain.CandidateItem)
	// RecordViews captures the user's viewed-item set consulted during
	// generation.
	RecordViews(itemIDs []int64)
	// RecordViewedInFeed captures which recommended items the user had
	// already seen.
	RecordViewedInFeed(itemIDs []int64)
	// RecordFinalOrder captures the generation output in presentation order.
	RecordFinalOrder(items []domain.CandidateItem)
	// Finalize seals the trace and schedules its export. It is safe to call
	// on every generation exit path, including failures.
	Finalize(ctx context.Context)
}

// Factory starts a tracer for one generation.
type Factory interface {
	Start(userID int64) Tracer
}

// NopTracer satisfies Tracer with zero-cost calls. It is used whenever
// tracing is disabled and in tests.
type NopTracer struct{}

// RecordResponse does nothing.
func (NopTracer) RecordResponse(items []domain.CandidateItem) {}

// RecordViews does nothing.
func (NopTracer) RecordViews(itemIDs []int64) {}

// RecordViewedInFeed does nothing.
func (NopTracer) RecordViewedInFeed(itemIDs []int64) {}

// RecordFinalOrder does nothing.
func (NopTracer) RecordFinalOrder(items []domain.CandidateItem) {}

// Finalize does nothing.
func (NopTracer) Finalize(ctx context.Context) {}

// NopFactory produces NopTracer instances.
type NopFactory struct{}

// Start returns a no-op tracer.
func (NopFactory) Start(userID int64) Tracer {
	return NopTracer{}
}
