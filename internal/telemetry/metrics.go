package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var CommentsPostedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "comments",
		Name:      "posted_total",
		Help:      "Total number of comments posted successfully.",
	},
	[]string{"schedule_id"},
)

var CommentsFailedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "comments",
		Name:      "failed_total",
		Help:      "Total number of comment post attempts that failed, by outcome class.",
	},
	[]string{"outcome"},
)

var AccountStatusTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "accounts",
		Name:      "status_transitions_total",
		Help:      "Total number of Account status transitions.",
	},
	[]string{"to_status"},
)

var QuotaExceededTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "api_profiles",
		Name:      "quota_exceeded_total",
		Help:      "Total number of ApiProfile quota-exceeded events.",
	},
)

var ProxyErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "proxies",
		Name:      "errors_total",
		Help:      "Total number of proxy-class posting failures.",
	},
)

var ProxyReactivatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "proxies",
		Name:      "reactivated_total",
		Help:      "Total number of proxies self-healed back to active after a live probe.",
	},
)

var SleepCyclesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "schedules",
		Name:      "sleep_cycles_total",
		Help:      "Total number of sleep cycles triggered across all schedules.",
	},
)

var RotationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "schedules",
		Name:      "rotations_total",
		Help:      "Total number of principal/secondary account rotations performed.",
	},
)

var ViewsSimulatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "view_schedules",
		Name:      "views_simulated_total",
		Help:      "Total number of simulate-view jobs that actually performed a simulated watch.",
	},
)

var LikesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "poster",
		Subsystem: "view_schedules",
		Name:      "likes_total",
		Help:      "Total number of auto-like actions issued after a simulated watch.",
	},
)

var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "poster",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of jobs waiting in a queue.",
	},
	[]string{"queue"},
)

var PostProcessingDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "poster",
		Subsystem: "post_comment",
		Name:      "processing_duration_seconds",
		Help:      "Posting Worker handler duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"outcome"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "poster",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Control-plane HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// All returns all engine-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CommentsPostedTotal,
		CommentsFailedTotal,
		AccountStatusTransitionsTotal,
		QuotaExceededTotal,
		ProxyErrorsTotal,
		ProxyReactivatedTotal,
		SleepCyclesTotal,
		RotationsTotal,
		ViewsSimulatedTotal,
		LikesTotal,
		QueueDepth,
		PostProcessingDuration,
		HTTPRequestDuration,
	}
}

// NewMetricsRegistry creates a Prometheus registry with the standard Go
// runtime/process collectors plus every engine-specific collector from
// All().
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
