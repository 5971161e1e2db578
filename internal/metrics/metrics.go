// Package metrics provides Prometheus instrumentation for the warm pool.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	// Fast operations (status queries, health checks)
	fastBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0}

	// Medium operations (HTTP requests, full reconciliation passes)
	mediumBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

	// Slow operations (cold starts) - container pulls can take minutes
	slowBuckets = []float64{1, 5, 10, 30, 60, 120, 180, 300, 600}
)

// Collector holds all Prometheus metrics for the warm pool.
type Collector struct {
	// Gauges - Current pool state
	PoolWarm     prometheus.Gauge
	PoolAssigned prometheus.Gauge
	PoolWarming  prometheus.Gauge
	PoolTarget   prometheus.Gauge
	PoolCeiling  prometheus.Gauge

	// Counters - Cumulative events
	AcquisitionsTotal *prometheus.CounterVec
	StartsTotal       *prometheus.CounterVec
	StopsTotal        *prometheus.CounterVec
	ProbesTotal       *prometheus.CounterVec
	CeilingHitsTotal  prometheus.Counter
	ReconcilesTotal   *prometheus.CounterVec
	HealthChecksTotal *prometheus.CounterVec

	// Histograms - Latency distributions
	StartDuration       prometheus.Histogram
	HealthCheckDuration prometheus.Histogram
	ReconcileDuration   prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		// Gauges
		PoolWarm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poolwarden",
			Subsystem: "pool",
			Name:      "warm_instances",
			Help:      "Number of warm unassigned instances",
		}),
		PoolAssigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poolwarden",
			Subsystem: "pool",
			Name:      "assigned_instances",
			Help:      "Number of instances currently assigned to identities",
		}),
		PoolWarming: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poolwarden",
			Subsystem: "pool",
			Name:      "warming_instances",
			Help:      "Number of instances with a start in flight",
		}),
		PoolTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poolwarden",
			Subsystem: "pool",
			Name:      "target_size",
			Help:      "Warm target from configuration",
		}),
		PoolCeiling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poolwarden",
			Subsystem: "pool",
			Name:      "known_ceiling",
			Help:      "Last learned backend capacity ceiling (0 when unknown)",
		}),

		// Counters
		AcquisitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolwarden",
			Name:      "acquisitions_total",
			Help:      "Total number of instance acquisition attempts",
		}, []string{"result"}),
		StartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolwarden",
			Name:      "starts_total",
			Help:      "Total number of backend start attempts",
		}, []string{"result"}),
		StopsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolwarden",
			Name:      "stops_total",
			Help:      "Total number of backend stop attempts",
		}, []string{"reason"}),
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolwarden",
			Name:      "capacity_probes_total",
			Help:      "Total number of capacity probe attempts past a known ceiling",
		}, []string{"result"}),
		CeilingHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poolwarden",
			Name:      "ceiling_hits_total",
			Help:      "Total number of backend capacity signals observed",
		}),
		ReconcilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolwarden",
			Name:      "reconciles_total",
			Help:      "Total number of reconciliation passes",
		}, []string{"result"}),
		HealthChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolwarden",
			Name:      "health_checks_total",
			Help:      "Total number of instance health checks",
		}, []string{"result"}),

		// Histograms
		StartDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "poolwarden",
			Name:      "start_duration_seconds",
			Help:      "Backend instance start latency in seconds",
			Buckets:   slowBuckets,
		}),
		HealthCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "poolwarden",
			Name:      "health_check_duration_seconds",
			Help:      "Single health check latency in seconds",
			Buckets:   fastBuckets,
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "poolwarden",
			Name:      "reconcile_duration_seconds",
			Help:      "Full reconciliation pass latency in seconds",
			Buckets:   mediumBuckets,
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "poolwarden",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   mediumBuckets,
		}, []string{"method", "path", "status"}),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		// Gauges
		c.PoolWarm,
		c.PoolAssigned,
		c.PoolWarming,
		c.PoolTarget,
		c.PoolCeiling,
		// Counters
		c.AcquisitionsTotal,
		c.StartsTotal,
		c.StopsTotal,
		c.ProbesTotal,
		c.CeilingHitsTotal,
		c.ReconcilesTotal,
		c.HealthChecksTotal,
		// Histograms
		c.StartDuration,
		c.HealthCheckDuration,
		c.ReconcileDuration,
		c.HTTPRequestDuration,
	)

	return c
}

// Handler returns an HTTP handler for the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
