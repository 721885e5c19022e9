// Package metrics exposes query counters and latencies for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrzor/xfertrace/internal/analyzer"
)

// Metrics records analyzer activity on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	queries     *prometheus.CounterVec
	duration    prometheus.Histogram
	transfers   prometheus.Counter
	bytes       *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xfertrace_queries_total",
			Help: "Analysis queries by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "xfertrace_query_duration_seconds",
			Help:    "Wall time of one analysis query, store reads included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
		transfers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xfertrace_correlated_transfers_total",
			Help: "Transfers joined with their API call.",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xfertrace_correlated_bytes_total",
			Help: "Bytes moved by correlated transfers, by direction.",
		}, []string{"direction"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xfertrace_anomalies_total",
			Help: "Per-event anomalies seen while analyzing.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.queries,
		m.duration,
		m.transfers,
		m.bytes,
		m.diagnostics,
		collectors.NewGoCollector(),
	)
	return m
}

// QueryFinished implements analyzer.Recorder.
func (m *Metrics) QueryFinished(res *analyzer.Result, elapsed time.Duration, err error) {
	m.duration.Observe(elapsed.Seconds())
	if err != nil {
		m.queries.WithLabelValues("error").Inc()
		return
	}
	m.queries.WithLabelValues("ok").Inc()
	if res == nil {
		return
	}

	m.transfers.Add(float64(len(res.Transfers)))
	for _, c := range res.ByDirection {
		m.bytes.WithLabelValues(c.Key).Add(float64(c.Bytes))
	}

	d := res.Diagnostics
	m.diagnostics.WithLabelValues("unmatched").Add(float64(d.Unmatched))
	m.diagnostics.WithLabelValues("multiple_matches").Add(float64(d.MultipleMatches))
	m.diagnostics.WithLabelValues("negative_interval").Add(float64(d.NegativeIntervals))
	m.diagnostics.WithLabelValues("malformed").Add(float64(d.Malformed))
	m.diagnostics.WithLabelValues("group_error").Add(float64(d.GroupErrors))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
