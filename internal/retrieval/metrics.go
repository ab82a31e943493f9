package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	retrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchain_retrievals_total",
			Help: "Total number of retrievals by mode, filter use and outcome",
		},
		[]string{"mode", "filtered", "outcome"},
	)
	staleIDsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchain_stale_ids_total",
			Help: "Index ids skipped because the passage store no longer holds them",
		},
		[]string{"mode"},
	)
	filterRounds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchain_filter_rounds",
			Help:    "Candidate windows requested per filtered retrieval",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"mode"},
	)
	retrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchain_retrieval_duration_seconds",
			Help:    "Retrieval latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"mode"},
	)
	ingestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchain_ingested_passages_total",
			Help: "Passages ingested by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(retrievalsTotal, staleIDsTotal, filterRounds, retrievalDuration, ingestedTotal)
}
