// Package metrics exposes Prometheus instrumentation for the feed pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of the feed engine.
type Metrics struct {
	FeedRequests       *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	GenerationDuration prometheus.Histogram
	GenerationFailures prometheus.Counter
	StaleServed        prometheus.Counter
	CursorRestarts     prometheus.Counter
}

// New registers the feed collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FeedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Personal feed requests by outcome.",
		}, []string{"status"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_cache_hits_total",
			Help: "Feed requests served from an existing generation.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_cache_misses_total",
			Help: "Feed requests that required a new generation.",
		}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed_generation_duration_seconds",
			Help:    "Wall time of feed generations, including the ranking call.",
			Buckets: prometheus.DefBuckets,
		}),
		GenerationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_generation_failures_total",
			Help: "Feed generations that failed and cached nothing.",
		}),
		StaleServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_stale_served_total",
			Help: "Feed responses served from the last-known-good fallback copy.",
		}),
		CursorRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_cursor_restarts_total",
			Help: "Pagination restarts caused by cursors from superseded generations.",
		}),
	}
}

// NewDefault registers the collectors with the default registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
