package telemetry

import "github.com/prometheus/client_golang/prometheus"

var IntegrationsScheduledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "integration",
		Name:      "scheduled_total",
		Help:      "Total number of integration jobs scheduled, by type and priority.",
	},
	[]string{"type", "priority"},
)

var IntegrationsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "integration",
		Name:      "completed_total",
		Help:      "Total number of integration jobs completed, by type and outcome.",
	},
	[]string{"type", "outcome"},
)

var IntegrationAttemptDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sentinela",
		Subsystem: "integration",
		Name:      "attempt_duration_seconds",
		Help:      "Duration of a single integration attempt against HubSoft.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"type"},
)

var IntegrationRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "integration",
		Name:      "retries_total",
		Help:      "Total number of integration retries scheduled, by type.",
	},
	[]string{"type"},
)

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits, by category.",
	},
	[]string{"category"},
)

var CacheMissesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses, by category.",
	},
	[]string{"category"},
)

var CacheEvictionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total number of cache evictions, by category.",
	},
	[]string{"category"},
)

var VerificationsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "verification",
		Name:      "completed_total",
		Help:      "Total number of CPF verifications completed, by outcome.",
	},
	[]string{"outcome"},
)

var TicketsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "ticket",
		Name:      "created_total",
		Help:      "Total number of support tickets created, by category.",
	},
	[]string{"category"},
)

var HubSoftRateLimitHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinela",
		Subsystem: "hubsoft",
		Name:      "rate_limit_hits_total",
		Help:      "Total number of HTTP 429 responses observed from HubSoft.",
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sentinela",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Admin API request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "path", "status"},
)

// All returns every Sentinela-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		IntegrationsScheduledTotal,
		IntegrationsCompletedTotal,
		IntegrationAttemptDuration,
		IntegrationRetriesTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		VerificationsCompletedTotal,
		TicketsCreatedTotal,
		HubSoftRateLimitHitsTotal,
		HTTPRequestDuration,
	}
}
