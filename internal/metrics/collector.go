// Package metrics exposes Prometheus metrics for the coordination loop.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
)

var (
	_ oracle.Recorder     = (*Collector)(nil)
	_ oracle.TickObserver = (*Collector)(nil)
)

// Collector holds the oracle metrics on its own registry
type Collector struct {
	registry *prometheus.Registry

	ticksTotal    *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	eventsTotal   *prometheus.CounterVec
	knownNodes    prometheus.Gauge
	livenessWrite prometheus.Gauge
}

// NewCollector creates a collector whose metric names start with namespace
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		ticksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Coordination ticks by outcome",
			},
			[]string{"result"},
		),
		tickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of one coordination tick",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Ledger submissions and elections by kind",
			},
			[]string{"kind"},
		),
		knownNodes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "known_nodes",
				Help:      "Nodes with a fresh heartbeat",
			},
		),
		livenessWrite: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "liveness_last_write_timestamp_seconds",
				Help:      "Unix time of the last successful liveness write",
			},
		),
	}
}

// Record counts ev by kind
func (c *Collector) Record(_ context.Context, ev oracle.Event) error {
	c.eventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// ObserveTick records one tick's duration and outcome
func (c *Collector) ObserveTick(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.ticksTotal.WithLabelValues(result).Inc()
	c.tickDuration.Observe(d.Seconds())
}

// SetKnownNodes sets the fresh node count
func (c *Collector) SetKnownNodes(n int) {
	c.knownNodes.Set(float64(n))
}

// SetLivenessWrite sets the time of the last liveness write
func (c *Collector) SetLivenessWrite(at time.Time) {
	if at.IsZero() {
		return
	}
	c.livenessWrite.Set(float64(at.UnixNano()) / 1e9)
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
