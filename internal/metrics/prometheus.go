package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsynth_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsynth_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsynth_retrieved_chunks",
			Help:    "Number of chunks passing the similarity threshold per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ResolutionMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docsynth_resolution_misses_total",
			Help: "Index hits that could not be resolved to a stored chunk",
		},
	)

	ChunkSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docsynth_chunk_skips_total",
			Help: "Chunks skipped because answer extraction failed",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsynth_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"provider", "type"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsynth_llm_requests_total",
			Help: "Language model requests by outcome",
		},
		[]string{"provider", "status"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsynth_confidence_score",
			Help:    "Confidence of surfaced answers and themes",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"kind"},
	)

	ThemesSurfaced = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsynth_themes_surfaced",
			Help:    "Number of themes passing the confidence gate per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsynth_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsynth_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsynth_documents_processed_total",
			Help: "Total documents processed by final status",
		},
		[]string{"status"},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docsynth_chunks_indexed_total",
			Help: "Total chunks written to the index",
		},
	)

	IndexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsynth_index_entries",
			Help: "Entries currently held by the similarity index",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			RetrievedChunks,
			ResolutionMisses,
			ChunkSkips,
			LLMTokensUsed,
			LLMRequests,
			ConfidenceScore,
			ThemesSurfaced,
			CacheHits,
			CacheMisses,
			DocumentsProcessed,
			ChunksIndexed,
			IndexEntries,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
