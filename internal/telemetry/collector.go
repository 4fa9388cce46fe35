// Package telemetry holds the aggregator's counters: a prometheus collector
// for scraping and atomic stats for in-process inspection.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Collector manages all metrics for the aggregator.
type Collector struct {
	CacheRequests  *prometheus.CounterVec
	Builds         *prometheus.CounterVec
	BuildDuration  *prometheus.HistogramVec
	RemoteRequests *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec

	stats *Stats
}

// Stats holds the live in-process counters. Use Snapshot for a copy.
type Stats struct {
	Hits         atomic.Int64
	Misses       atomic.Int64
	Consolidated atomic.Int64
	Fallbacks    atomic.Int64
	Defaults     atomic.Int64
	RemoteErrors atomic.Int64
}

// Snapshot is the plain form of Stats.
type Snapshot struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Consolidated int64 `json:"consolidated"`
	Fallbacks    int64 `json:"fallbacks"`
	Defaults     int64 `json:"defaults"`
	RemoteErrors int64 `json:"remote_errors"`
}

// NewCollector creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which keeps tests isolated.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Dashboard cache lookups by result",
			},
			[]string{"role", "result"},
		),
		Builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dashboard_builds_total",
				Help:      "Dashboard snapshots built by role and source",
			},
			[]string{"role", "source"},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dashboard_build_duration_seconds",
				Help:      "Time spent building a dashboard snapshot",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"role"},
		),
		RemoteRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Calls to the upstream API by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		RemoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_seconds",
				Help:      "Upstream API call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		stats: &Stats{},
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.CacheRequests, c.Builds, c.BuildDuration, c.RemoteRequests, c.RemoteDuration} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// CacheHit records a cache hit.
func (c *Collector) CacheHit(role string) {
	c.stats.Hits.Inc()
	c.CacheRequests.WithLabelValues(role, "hit").Inc()
}

// CacheMiss records a cache miss.
func (c *Collector) CacheMiss(role string) {
	c.stats.Misses.Inc()
	c.CacheRequests.WithLabelValues(role, "miss").Inc()
}

// Built records a finished build and where its core came from.
func (c *Collector) Built(role, source string, took time.Duration) {
	switch source {
	case "consolidated":
		c.stats.Consolidated.Inc()
	case "fallback":
		c.stats.Fallbacks.Inc()
	default:
		c.stats.Defaults.Inc()
	}
	c.Builds.WithLabelValues(role, source).Inc()
	c.BuildDuration.WithLabelValues(role).Observe(took.Seconds())
}

// Remote records one upstream call.
func (c *Collector) Remote(endpoint string, err error, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.stats.RemoteErrors.Inc()
	}
	c.RemoteRequests.WithLabelValues(endpoint, outcome).Inc()
	c.RemoteDuration.WithLabelValues(endpoint).Observe(took.Seconds())
}

// Snapshot copies the in-process counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Hits:         c.stats.Hits.Load(),
		Misses:       c.stats.Misses.Load(),
		Consolidated: c.stats.Consolidated.Load(),
		Fallbacks:    c.stats.Fallbacks.Load(),
		Defaults:     c.stats.Defaults.Load(),
		RemoteErrors: c.stats.RemoteErrors.Load(),
	}
}
