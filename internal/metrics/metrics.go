// Package metrics holds the Prometheus collectors for embedding and cache activity.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zettelink",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zettelink",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zettelink",
			Name:      "cache_lookups_total",
			Help:      "Embedding cache freshness checks by result",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	NotesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zettelink",
			Name:      "notes_processed_total",
			Help:      "Notes handled by embed runs, by outcome",
		},
		[]string{"outcome"}, // "updated" / "cached" / "empty" / "error" / "removed"
	)

	CachedNotes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zettelink",
			Name:      "cached_notes",
			Help:      "Number of records in the embedding cache after the last save",
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			CacheLookupsTotal,
			NotesProcessedTotal,
			CachedNotes,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
