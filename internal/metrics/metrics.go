package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestration counters and histograms, partitioned by outcome.

var (
	// Confirmation engine
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "confirm",
		Name:      "requests_total",
		Help:      "Confirmation requests by outcome (success, error, timeout)",
	}, []string{"outcome"})

	ConfirmationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "payflow",
		Subsystem: "confirm",
		Name:      "perform_duration_seconds",
		Help:      "Duration of confirmation perform steps",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
	})

	ConfirmationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "payflow",
		Subsystem: "confirm",
		Name:      "queued_requests",
		Help:      "Requests waiting or running across all keys",
	})

	// Ledger
	LedgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "ledger",
		Name:      "requests_total",
		Help:      "Ledger RPC calls by method and status",
	}, []string{"method", "status"})

	// Submission
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "submit",
		Name:      "transactions_total",
		Help:      "Submitted transactions by result (confirmed or failure reason)",
	}, []string{"result"})

	// Flows
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "purchase",
		Name:      "outcomes_total",
		Help:      "Purchase flow outcomes",
	}, []string{"outcome"})

	PollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "payflow",
		Subsystem: "poll",
		Name:      "attempts",
		Help:      "Balance poll attempts used per purchase confirmation",
		Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 80, 120},
	})

	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "withdraw",
		Name:      "outcomes_total",
		Help:      "Withdrawal flow outcomes",
	}, []string{"outcome"})

	// Collaborators
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped for slow subscribers",
	})

	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "report",
		Name:      "errors_total",
		Help:      "Error reports by level, including dropped reports",
	}, []string{"level"})

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payflow",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
