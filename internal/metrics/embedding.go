package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Client-side embedding metrics, labelled by provider and request kind.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midras",
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embedding requests sent, by outcome",
		},
		[]string{"provider", "kind", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "midras",
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Latency of successful embedding requests",
			// The service allows up to 180s for large image batches.
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"provider", "kind"},
	)

	EmbeddingUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midras",
			Subsystem: "embedding",
			Name:      "units_total",
			Help:      "Images and queries embedded",
		},
		[]string{"provider", "kind"},
	)

	EmbeddingCreditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midras",
			Subsystem: "embedding",
			Name:      "credits_total",
			Help:      "Credits charged by the provider",
		},
		[]string{"provider", "kind"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midras",
			Subsystem: "embedding",
			Name:      "errors_total",
			Help:      "Failed embedding requests, by cause",
		},
		[]string{"provider", "kind", "error_type"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midras",
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Query embedding cache lookups",
		},
		[]string{"result"},
	)

	EmbeddingBudgetCreditsRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "midras",
			Subsystem: "embedding",
			Name:      "budget_credits_remaining",
			Help:      "Credits left in the budget period, -1 when unlimited",
		},
		[]string{"provider", "period"},
	)
)

var registerEmbeddingOnce sync.Once

// RegisterEmbeddingMetrics registers the embedding collectors with the default registry.
func RegisterEmbeddingMetrics() {
	registerEmbeddingOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingUnitsTotal,
			EmbeddingCreditsTotal,
			EmbeddingErrorsTotal,
			EmbeddingCacheTotal,
			EmbeddingBudgetCreditsRemaining,
		)
	})
}

// RecordEmbedding accounts one successful request.
func RecordEmbedding(provider, kind string, units, credits int, d time.Duration) {
	EmbeddingRequestsTotal.WithLabelValues(provider, kind, "success").Inc()
	EmbeddingRequestDuration.WithLabelValues(provider, kind).Observe(d.Seconds())
	EmbeddingUnitsTotal.WithLabelValues(provider, kind).Add(float64(units))
	EmbeddingCreditsTotal.WithLabelValues(provider, kind).Add(float64(credits))
}

// RecordEmbeddingError accounts one failed request under errType.
// A request refused before it was sent counts as an error only.
func RecordEmbeddingError(provider, kind, errType string, sent bool) {
	if sent {
		EmbeddingRequestsTotal.WithLabelValues(provider, kind, "error").Inc()
	}
	EmbeddingErrorsTotal.WithLabelValues(provider, kind, errType).Inc()
}
