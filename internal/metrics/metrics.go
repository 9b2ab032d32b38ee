package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delegation_validation_build_info",
			Help: "Build information of the delegation validation coordinator",
		},
		[]string{"version", "commit", "date"},
	)

	ValidationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegation_validation_runs_total",
			Help: "Total number of validation runs by outcome",
		},
		[]string{"outcome"},
	)

	ValidationRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delegation_validation_run_duration_seconds",
			Help:    "Duration of validation runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~2048s (~34 minutes)
		},
	)

	ProducersEvaluated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delegation_validation_producers_evaluated",
			Help: "Number of producers evaluated in the most recent run",
		},
	)

	LedgerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegation_validation_ledger_requests_total",
			Help: "Total number of ledger requests",
		},
		[]string{"method", "status"},
	)

	LedgerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delegation_validation_ledger_request_duration_seconds",
			Help:    "Duration of ledger requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"method"},
	)

	StoreQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegation_validation_store_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegation_validation_notifications_total",
			Help: "Total number of notification sink publishes",
		},
		[]string{"sink", "status"},
	)

	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegation_validation_scheduler_ticks_total",
			Help: "Total number of scheduler ticks by result",
		},
		[]string{"result"},
	)
)
