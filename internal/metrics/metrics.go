// Package metrics exposes refresh loop measurements to Prometheus
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry with every busboard metric
type Collector struct {
	reg *prometheus.Registry

	Cycles        *prometheus.CounterVec // result label: ok|error
	CycleDuration prometheus.Histogram
	StaleCycles   prometheus.Counter
	Arrivals      prometheus.Gauge

	VehicleFetches *prometheus.CounterVec // result label: ok|stale|empty

	RefreshInterval prometheus.Gauge // seconds

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram
}

// NewCollector creates and registers the collector
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busboard_cycles_total",
			Help: "Refresh cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busboard_cycle_duration_seconds",
			Help:    "Duration of a fetch-normalize-merge cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		StaleCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_stale_cycles_discarded_total",
			Help: "Cycles whose results were dropped because a newer cycle was issued.",
		}),
		Arrivals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busboard_arrivals_displayed",
			Help: "Arrivals in the last applied cycle.",
		}),
		VehicleFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busboard_vehicle_fetches_total",
			Help: "Vehicle position refreshes by result.",
		}, []string{"result"}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busboard_refresh_interval_seconds",
			Help: "Interval of the currently armed refresh timer.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busboard_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busboard_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.Cycles, c.CycleDuration, c.StaleCycles, c.Arrivals,
		c.VehicleFetches, c.RefreshInterval,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
	)

	return c
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) CycleObserve(result string, d time.Duration) {
	c.Cycles.WithLabelValues(result).Inc()
	c.CycleDuration.Observe(d.Seconds())
}

func (c *Collector) StaleCycleDiscarded() { c.StaleCycles.Inc() }

func (c *Collector) ArrivalsDisplayed(n int) { c.Arrivals.Set(float64(n)) }

func (c *Collector) IntervalSet(d time.Duration) { c.RefreshInterval.Set(d.Seconds()) }

func (c *Collector) VehicleFetchObserve(result string) {
	c.VehicleFetches.WithLabelValues(result).Inc()
}

func (c *Collector) NATSPublishedInc() { c.NATSPublished.Inc() }

func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}
