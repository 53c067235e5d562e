// Package metrics provides Prometheus metrics collection for Tollgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the admission pipeline.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	SlowRequests     prometheus.Counter

	// Admission metrics
	Rejections    *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec

	// Ledger metrics
	LedgerEntries  prometheus.Counter
	LedgerFailures prometheus.Counter
	CostTotal      prometheus.Counter

	// Pool metrics
	PoolInUse prometheus.Gauge
	PoolIdle  prometheus.Gauge

	// Downstream metrics
	DownstreamDuration prometheus.Histogram
	DownstreamErrors   prometheus.Counter
}

// New creates a new metrics collector with all metrics registered on the
// default registry.
func New() *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "requests_total",
				Help:      "Total number of metered requests processed",
			},
			[]string{"outcome", "tier"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration from New to terminal state",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		RequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tollgate",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently in the pipeline",
			},
		),
		SlowRequests: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "slow_requests_total",
				Help:      "Requests exceeding the slow threshold, any outcome",
			},
		),

		Rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "rejections_total",
				Help:      "Total rejections by reason kind",
			},
			[]string{"reason"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "rate_limit_hits_total",
				Help:      "Total rate limit denials by identity kind",
			},
			[]string{"kind"},
		),

		LedgerEntries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "ledger_entries_total",
				Help:      "Usage ledger entries recorded",
			},
		),
		LedgerFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "ledger_failures_total",
				Help:      "Ledger write failures escalated for reconciliation",
			},
		),
		CostTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "cost_minor_units_total",
				Help:      "Total billed cost in minor currency units",
			},
		),

		PoolInUse: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tollgate",
				Name:      "pool_connections_in_use",
				Help:      "Storage pool connections currently checked out",
			},
		),
		PoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tollgate",
				Name:      "pool_connections_idle",
				Help:      "Storage pool connections sitting idle",
			},
		),

		DownstreamDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Name:      "downstream_duration_seconds",
				Help:      "Downstream completion call duration",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		DownstreamErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "downstream_errors_total",
				Help:      "Downstream completion call failures",
			},
		),
	}
}
