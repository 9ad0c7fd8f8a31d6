package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "price_alerts"

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Polling cycle metrics ──────────────────────────────────────────────

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "total",
		Help:      "Total number of polling cycles per source.",
	}, []string{"source", "status"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "duration_seconds",
		Help:      "Duration of one polling cycle per source in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"source"})

	CycleLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last completed cycle per source.",
	}, []string{"source"})

	ActiveAlerts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "active_alerts",
		Help:      "Active alerts loaded by the last cycle per source.",
	}, []string{"source"})
)

// ── Price provider metrics ─────────────────────────────────────────────

var (
	PriceFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prices",
		Name:      "fetch_failures_total",
		Help:      "Price lookups that failed or returned no price.",
	}, []string{"source"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prices",
		Name:      "cache_misses_total",
		Help:      "Alerts skipped because their price was not fetched this cycle.",
	}, []string{"source"})
)

// ── Trigger and delivery metrics ───────────────────────────────────────

var (
	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "triggered_total",
		Help:      "Alerts whose condition was met.",
	}, []string{"source", "condition"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "notifications_total",
		Help:      "Notification attempts by outcome (rich, plain, failed, deduplicated).",
	}, []string{"source", "outcome"})

	DeactivationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "deactivation_failures_total",
		Help:      "Triggered alerts that could not be marked inactive.",
	}, []string{"source"})
)
