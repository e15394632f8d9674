// Package metrics exposes the Prometheus instrumentation for pipeline
// runs and the read API. All collectors register on a private registry
// so tests can construct the set more than once.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every collector the process registers.
type Set struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	PhaseDuration *prometheus.HistogramVec

	ProductsFetched prometheus.Counter
	ProductsFailed  prometheus.Counter
	SnapshotsStored prometheus.Counter
	TokensSpent     prometheus.Counter
	TokensRemaining prometheus.Gauge
	MissingPricePct prometheus.Gauge
	MissingRankPct  prometheus.Gauge
	Opportunities   prometheus.Gauge
	ShortlistSize   prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewSet builds and registers all collectors.
func NewSet() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartacus",
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartacus",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a full pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartacus",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each pipeline phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		ProductsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartacus",
			Name:      "products_fetched_total",
			Help:      "Product records fetched from the catalog API.",
		}),
		ProductsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartacus",
			Name:      "products_failed_total",
			Help:      "Per-product fetch failures isolated inside batches.",
		}),
		SnapshotsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartacus",
			Name:      "snapshots_stored_total",
			Help:      "Snapshots persisted, duplicates excluded.",
		}),
		TokensSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartacus",
			Name:      "api_tokens_spent_total",
			Help:      "Catalog API tokens consumed.",
		}),
		TokensRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartacus",
			Name:      "budget_tokens_remaining",
			Help:      "Tokens remaining in the monthly budget.",
		}),
		MissingPricePct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartacus",
			Name:      "dq_missing_price_pct",
			Help:      "Percentage of fresh snapshots missing a price, last run.",
		}),
		MissingRankPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartacus",
			Name:      "dq_missing_rank_pct",
			Help:      "Percentage of fresh snapshots missing a sales rank, last run.",
		}),
		Opportunities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartacus",
			Name:      "opportunities_scored",
			Help:      "Opportunities scored in the last completed run.",
		}),
		ShortlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartacus",
			Name:      "shortlist_size",
			Help:      "Entries in the active shortlist.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartacus",
			Name:      "http_requests_total",
			Help:      "Read-API requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartacus",
			Name:      "http_request_duration_seconds",
			Help:      "Read-API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		s.RunsTotal, s.RunDuration, s.PhaseDuration,
		s.ProductsFetched, s.ProductsFailed, s.SnapshotsStored,
		s.TokensSpent, s.TokensRemaining,
		s.MissingPricePct, s.MissingRankPct,
		s.Opportunities, s.ShortlistSize,
		s.HTTPRequests, s.HTTPDuration,
	)
	return s
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ObservePhase records one phase duration.
func (s *Set) ObservePhase(phase string, d time.Duration) {
	s.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
