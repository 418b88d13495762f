// Package metrics exposes allocator, lifecycle and cascade counters to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ubcore/cascade"
	"ubcore/ident"
)

const metricsNamespace = "ubcore"

// Collector is a prometheus.Collector for the core. It satisfies
// ident.Recorder and cascade.Recorder.
type Collector struct {
	allocations        *prometheus.CounterVec
	allocationAttempts prometheus.Histogram
	allocationFailures *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	cascadeEffects     *prometheus.CounterVec
	cascadeBlocked     *prometheus.CounterVec
	outboxPending      prometheus.Gauge
}

var (
	_ ident.Recorder   = (*Collector)(nil)
	_ cascade.Recorder = (*Collector)(nil)
)

func NewCollector() *Collector {
	return &Collector{
		allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "allocations_total",
				Help:      "Identifiers allocated, by kind.",
			}, []string{"kind"},
		),
		allocationAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "allocation_attempts",
				Help:      "Compare-and-swap rounds needed per successful allocation.",
				Buckets:   []float64{1, 2, 3, 5, 8, 13},
			},
		),
		allocationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "allocation_failures_total",
				Help:      "Allocations that gave up, by kind and reason.",
			}, []string{"kind", "reason"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transitions_total",
				Help:      "Committed status transitions.",
			}, []string{"kind", "axis", "to"},
		),
		cascadeEffects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cascade_effects_total",
				Help:      "Dependent rows changed by cascade rules.",
			}, []string{"rule"},
		),
		cascadeBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cascade_blocked_total",
				Help:      "Triggers refused by a block rule.",
			}, []string{"rule"},
		),
		outboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "outbox_pending",
				Help:      "Outbox messages awaiting publication.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.allocations.Describe(ch)
	c.allocationAttempts.Describe(ch)
	c.allocationFailures.Describe(ch)
	c.transitions.Describe(ch)
	c.cascadeEffects.Describe(ch)
	c.cascadeBlocked.Describe(ch)
	c.outboxPending.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.allocations.Collect(ch)
	c.allocationAttempts.Collect(ch)
	c.allocationFailures.Collect(ch)
	c.transitions.Collect(ch)
	c.cascadeEffects.Collect(ch)
	c.cascadeBlocked.Collect(ch)
	c.outboxPending.Collect(ch)
}

func (c *Collector) AllocationSucceeded(kind ident.Kind, attempts int) {
	c.allocations.WithLabelValues(string(kind)).Inc()
	c.allocationAttempts.Observe(float64(attempts))
}

func (c *Collector) AllocationFailed(kind ident.Kind, reason string) {
	c.allocationFailures.WithLabelValues(string(kind), reason).Inc()
}

func (c *Collector) Transitioned(kind, axis, to string) {
	c.transitions.WithLabelValues(kind, axis, to).Inc()
}

func (c *Collector) CascadeApplied(rule string, effects int) {
	c.cascadeEffects.WithLabelValues(rule).Add(float64(effects))
}

func (c *Collector) CascadeBlocked(rule string) {
	c.cascadeBlocked.WithLabelValues(rule).Inc()
}

func (c *Collector) SetOutboxPending(n int) {
	c.outboxPending.Set(float64(n))
}

// Registry builds a private registry holding c and the Go runtime collectors.
func Registry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c, prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
