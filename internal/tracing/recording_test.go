package tracing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
	"github.com/jonesrussell/vidcloud/feed-engine/internal/tracing"
)

func TestRecordingTracerBuildsDocument(t *testing.T) {
	sink := &captureSink{}
	flusher := tracing.NewFlusher(sink, 4, time.Second, logger.NewNop())
	flusher.Start()

	factory := tracing.NewRecordingFactory(flusher)
	tracer := factory.Start(33)

	raw := []domain.CandidateItem{{ItemID: 1}, {ItemID: 2}}
	final := []domain.CandidateItem{{ItemID: 2}, {ItemID: 1}}

	tracer.RecordResponse(raw)
	tracer.RecordViews([]int64{2})
	tracer.RecordViewedInFeed([]int64{2})
	tracer.RecordFinalOrder(final)
	tracer.Finalize(context.Background())

	flusher.Stop()

	docs := sink.documents()
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.NotEmpty(t, doc.TraceID)
	assert.Equal(t, int64(33), doc.UserID)
	assert.False(t, doc.StartedAt.IsZero())
	assert.False(t, doc.FinalizedAt.IsZero())
	assert.Equal(t, raw, doc.RawResponse)
	assert.Equal(t, []int64{2}, doc.Views)
	assert.Equal(t, []int64{2}, doc.ViewedInFeed)
	assert.Equal(t, final, doc.FinalOrder)
}

func TestRecordingTracerFinalizeIsIdempotent(t *testing.T) {
	sink := &captureSink{}
	flusher := tracing.NewFlusher(sink, 4, time.Second, logger.NewNop())
	flusher.Start()

	tracer := tracing.NewRecordingFactory(flusher).Start(33)
	tracer.Finalize(context.Background())
	tracer.Finalize(context.Background())

	flusher.Stop()
	assert.Len(t, sink.documents(), 1)
}

func TestRecordingFactoryAssignsDistinctTraceIDs(t *testing.T) {
	sink := &captureSink{}
	flusher := tracing.NewFlusher(sink, 4, time.Second, logger.NewNop())
	flusher.Start()

	factory := tracing.NewRecordingFactory(flusher)
	factory.Start(1).Finalize(context.Background())
	factory.Start(1).Finalize(context.Background())

	flusher.Stop()

	docs := sink.documents()
	require.Len(t, docs, 2)
	assert.NotEqual(t, docs[0].TraceID, docs[1].TraceID)
}
