package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CollectionsTotal counts per-collection outcomes of worker runs.
	CollectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunning_collections_total",
			Help: "Collection outcomes per worker run by bucket and reason",
		},
		[]string{"outcome", "reason"}, // processed|skipped|error , e.g. daily_limit_exceeded
	)

	// MessagesTotal counts gateway send attempts by channel and result.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunning_messages_total",
			Help: "Gateway send attempts by channel and result",
		},
		[]string{"channel", "result"}, // email|whatsapp , sent|failed
	)

	// RunDuration observes full worker run latency.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dunning_run_duration_seconds",
			Help:    "Duration of one collection worker run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// LockContention counts runs that found the lock already held.
	LockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dunning_lock_contention_total",
			Help: "Worker runs skipped because another instance held the lock",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		CollectionsTotal,
		MessagesTotal,
		RunDuration,
		LockContention,
	)
}
