// Package cbstats registers the Prometheus counters and histograms the
// core publishes for observability (spec.md §1 ambient stack; no
// logging setup is in scope, so these metrics are the one externally
// visible signal of retry/timeout/redirect behavior). Grounded in
// aistore's stats/target_stats.go naming convention (".n" counters,
// ".ns" latencies), rebuilt on top of github.com/prometheus/client_golang
// since that is the teacher's actual metrics dependency rather than its
// home-grown StatsD exporter.
package cbstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a self-contained set of metrics for one cluster session,
// built by NewRegistry on its own Prometheus registry rather than the
// global one, so tests and multi-cluster processes do not collide.
type Registry struct {
	reg *prometheus.Registry

	RequestsInFlight prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	Timeouts         *prometheus.CounterVec
	NotMyVBucket     prometheus.Counter
	ConfigPublished  prometheus.Counter
	NetworkFallback  prometheus.Counter
	RequestLatency   *prometheus.HistogramVec
}

// NewRegistry builds and registers a fresh set of metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gocbcluster",
			Name:      "requests_in_flight",
			Help:      "Requests currently resolved and awaiting a response.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbcluster",
			Name:      "requests_total",
			Help:      "Completed requests, labeled by outcome kind (\"success\" or a cberr.Kind).",
		}, []string{"kind"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbcluster",
			Name:      "retries_total",
			Help:      "Retry attempts, labeled by the reason that triggered the retry.",
		}, []string{"reason"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbcluster",
			Name:      "timeouts_total",
			Help:      "Request timeouts, labeled by ambiguous vs unambiguous.",
		}, []string{"kind"}),
		NotMyVBucket: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocbcluster",
			Name:      "not_my_vbucket_total",
			Help:      "not_my_vbucket redirects observed.",
		}),
		ConfigPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocbcluster",
			Name:      "config_published_total",
			Help:      "Configurations that advanced the current revision and were adopted.",
		}),
		NetworkFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocbcluster",
			Name:      "config_network_fallback_total",
			Help:      "Times cluster-open fell back to the \"default\" network because no node had this_node set or the this_node entry did not match the bootstrap host (spec.md §9 Open Question 1).",
		}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gocbcluster",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency, labeled by operation kind (\"kv\" or \"http\").",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(r.RequestsInFlight, r.RequestsTotal, r.Retries, r.Timeouts,
		r.NotMyVBucket, r.ConfigPublished, r.NetworkFallback, r.RequestLatency)
	return r
}

// Gatherer exposes the underlying prometheus.Registry for callers that
// want to serve /metrics themselves.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveLatency is a small helper so call sites can defer a single
// line (`defer r.ObserveLatency("kv", time.Now())`) instead of managing
// a timer themselves.
func (r *Registry) ObserveLatency(op string, start time.Time) {
	r.RequestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
