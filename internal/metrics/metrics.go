// Package metrics holds the Prometheus collectors of the relay. They are
// registered on the default registry and served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CycleOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_cycles_total",
			Help: "Processing cycles by outcome.",
		},
		[]string{"outcome"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jarvis_cycle_duration_seconds",
			Help:    "Wall time of a processing cycle.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	SegmentsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_segments_claimed_total",
			Help: "Segments claimed by processing cycles.",
		},
	)

	ClaimContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_claim_contention_total",
			Help: "Cycles that claimed fewer segments than they fetched.",
		},
	)

	SegmentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_segments_ingested_total",
			Help: "Webhook segments by ingest result.",
		},
		[]string{"result"},
	)

	SMSSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_sms_total",
			Help: "Reply relays by result.",
		},
		[]string{"result"},
	)

	SchedulerSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_scheduler_lease_skips_total",
			Help: "Ticks skipped because another consumer held the lease.",
		},
	)

	RetentionDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_retention_deleted_total",
			Help: "Rows deleted by the retention sweeper.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(CycleOutcomes)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(SegmentsClaimed)
	prometheus.MustRegister(ClaimContention)
	prometheus.MustRegister(SegmentsIngested)
	prometheus.MustRegister(SMSSent)
	prometheus.MustRegister(SchedulerSkips)
	prometheus.MustRegister(RetentionDeleted)
}
