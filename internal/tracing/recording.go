package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
)

// Document is one finalized feed generation trace.
type Document struct {
	TraceID      string                 `json:"trace_id"`
	UserID       int64                  `json:"user_id"`
	StartedAt    time.Time              `json:"started_at"`
	FinalizedAt  time.Time              `json:"finalized_at"`
	RawResponse  []domain.CandidateItem `json:"raw_response,omitempty"`
	Views        []int64                `json:"views,omitempty"`
	ViewedInFeed []int64                `json:"viewed_in_feed,omitempty"`
	FinalOrder   []domain.CandidateItem `json:"final_order,omitempty"`
}

// RecordingTracer accumulates one generation's stages and hands the document
// to the flusher on Finalize. Safe for concurrent record calls.
type RecordingTracer struct {
	mu      sync.Mutex
	doc     Document
	flusher *Flusher
	done    bool
}

// RecordResponse captures the raw ranking response.
func (t *RecordingTracer) RecordResponse(items []domain.CandidateItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.RawResponse = append([]domain.CandidateItem(nil), items...)
}

// RecordViews captures the consulted viewed-item set.
func (t *RecordingTracer) RecordViews(itemIDs []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.Views = append([]int64(nil), itemIDs...)
}

// RecordViewedInFeed captures the already-seen recommendations.
func (t *RecordingTracer) RecordViewedInFeed(itemIDs []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.ViewedInFeed = append([]int64(nil), itemIDs...)
}

// RecordFinalOrder captures the presentation-order output.
func (t *RecordingTracer) RecordFinalOrder(items []domain.CandidateItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.FinalOrder = append([]domain.CandidateItem(nil), items...)
}

// Finalize seals the document and schedules its export. Repeated calls are
// no-ops, so it can sit in a defer next to early returns.
func (t *RecordingTracer) Finalize(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.doc.FinalizedAt = time.Now().UTC()
	t.flusher.Send(t.doc)
}

// RecordingFactory starts recording tracers bound to a flusher.
type RecordingFactory struct {
	flusher *Flusher
}

// NewRecordingFactory creates a factory whose tracers export through the
// given flusher.
func NewRecordingFactory(flusher *Flusher) *RecordingFactory {
	return &RecordingFactory{flusher: flusher}
}

// Start begins a trace for one generation.
func (f *RecordingFactory) Start(userID int64) Tracer {
	return &RecordingTracer{
		flusher: f.flusher,
		doc: Document{
			TraceID:   uuid.New().String(),
			UserID:    userID,
			StartedAt: time.Now().UTC(),
		},
	}
}
