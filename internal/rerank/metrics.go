package rerank

import "github.com/prometheus/client_golang/prometheus"

var (
	rerankTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchain_rerank_total",
			Help: "Likelihood calculations by scorer and outcome",
		},
		[]string{"scorer", "outcome"},
	)
	excludedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchain_rerank_excluded_contexts_total",
			Help: "Contexts excluded from reranking because scoring failed",
		},
		[]string{"scorer"},
	)
	rerankDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchain_rerank_duration_seconds",
			Help:    "Likelihood calculation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"scorer"},
	)
)

func init() {
	prometheus.MustRegister(rerankTotal, excludedTotal, rerankDuration)
}
