// Package metrics provides Prometheus metrics for the node and the HTTP
// endpoint that serves them together with a status snapshot.
package metrics

import (
	"net/http"

	"github.com/itohio/d1node/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "d1node"

// Metrics holds the node collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	samples      prometheus.Counter
	sampleErrors prometheus.Counter
	sampleValue  prometheus.Gauge
	band         *prometheus.CounterVec
	linkUp       prometheus.Gauge
	publish      *prometheus.CounterVec
	tickDuration prometheus.Histogram
}

// New creates and registers the node collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Analog samples read",
		}),
		sampleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Analog reads that failed",
		}),
		sampleValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_value",
			Help:      "Most recent analog sample",
		}),
		band: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "band_total",
			Help:      "Samples per classification band",
		}, []string{"band"}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "1 while the Wi-Fi link is connected",
		}),
		publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "publish_total",
			Help:      "Telemetry publishes by result",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Control loop tick duration, excluding the loop interval",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.samples,
		m.sampleErrors,
		m.sampleValue,
		m.band,
		m.linkUp,
		m.publish,
		m.tickDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterWiFiPolls exposes the supervisor's poll count.
func (m *Metrics) RegisterWiFiPolls(polls func() int) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wifi_polls_total",
		Help:      "Wi-Fi status polls",
	}, func() float64 { return float64(polls()) }))
}

// ObserveTick records one control loop tick.
func (m *Metrics) ObserveTick(e events.TickEvent) {
	m.tickDuration.Observe(e.Duration.Seconds())
	if e.Link != "" {
		m.setLink(e.Link)
	}
	if e.Error != "" {
		m.sampleErrors.Inc()
		return
	}
	m.samples.Inc()
	m.sampleValue.Set(float64(e.Value))
	m.band.WithLabelValues(e.Band).Inc()
}

// ObserveLink records a link state change.
func (m *Metrics) ObserveLink(e events.LinkStateEvent) {
	m.setLink(e.State)
}

// ObservePublish records a telemetry publish outcome.
func (m *Metrics) ObservePublish(e events.PublishEvent) {
	m.publish.WithLabelValues(e.Result).Inc()
}

func (m *Metrics) setLink(state string) {
	if state == "connected" {
		m.linkUp.Set(1)
	} else {
		m.linkUp.Set(0)
	}
}

// Attach subscribes the collectors to the bus. The returned function
// detaches them.
func (m *Metrics) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(m.ObserveTick),
		bus.Subscribe(m.ObserveLink),
		bus.Subscribe(m.ObservePublish),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
