// Package metrics exposes Prometheus instrumentation for the storage layer.
//
// The interesting number in this system is "how often do we hit the backing
// store, and how often does it fail" — GitHub's API is rate-limited, so
// every avoidable call costs real quota. The collector counts operations and
// errors per backend and per operation, plus a latency histogram.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the storage metrics, registered against one registry.
// Using an injected Registerer (not the package-global default) keeps tests
// from tripping over duplicate registration.
type Collector struct {
	ops     *prometheus.CounterVec
	errs    *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewCollector creates the collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikistore_storage_operations_total",
			Help: "Storage adapter operations, by backend and operation.",
		}, []string{"backend", "operation"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wikistore_storage_errors_total",
			Help: "Failed storage adapter operations, by backend and operation.",
		}, []string{"backend", "operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wikistore_storage_latency_seconds",
			Help:    "Storage adapter operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
	}

	reg.MustRegister(c.ops, c.errs, c.latency)
	return c
}

// ObserveStorageOp records one adapter call. Satisfies storage.Observer.
func (c *Collector) ObserveStorageOp(backend, operation string, duration time.Duration, err error) {
	c.ops.WithLabelValues(backend, operation).Inc()
	if err != nil {
		c.errs.WithLabelValues(backend, operation).Inc()
	}
	c.latency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// Handler returns the /metrics scrape handler for a registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
