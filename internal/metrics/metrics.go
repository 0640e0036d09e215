// Package metrics holds the Prometheus collectors for search, refresh and HTTP.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "docsearch"

// Search metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of search calls by operation and result source",
		},
		[]string{"operation", "source"}, // source: vector / keyword / concept / error
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search call duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	VectorFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_fallback_total",
			Help:      "Searches that fell back from the vector path to keyword matching",
		},
		[]string{"reason"}, // "error" / "empty" / "malformed"
	)

	MalformedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_rows_total",
			Help:      "Stored rows that could not be decoded",
		},
	)
)

// Refresh metrics.
var (
	RefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_runs_total",
			Help:      "Total number of corpus refreshes",
		},
		[]string{"status"},
	)

	RefreshDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_documents_total",
			Help:      "Documents processed by refresh",
		},
		[]string{"result"}, // "indexed" / "failed"
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Refresh duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	FetchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Corpus source fetches",
		},
		[]string{"result"}, // "hit" / "miss" / "error"
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

func init() {
	prometheus.MustRegister(
		SearchRequestsTotal,
		SearchDuration,
		VectorFallbackTotal,
		MalformedRowsTotal,
		RefreshRunsTotal,
		RefreshDocumentsTotal,
		RefreshDuration,
		FetchRequestsTotal,
		EmbeddingCacheTotal,
	)
}
