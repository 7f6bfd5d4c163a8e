// Package telemetry exposes worker metrics in the Prometheus format.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "asset_compute"

type Metrics struct {
	registry *prometheus.Registry

	invocations      *prometheus.CounterVec
	renditions       *prometheus.CounterVec
	transferAttempts *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	activations      *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Invocations by processing mode and outcome.",
		}, []string{"mode", "outcome"}),
		renditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renditions_total",
			Help:      "Renditions by outcome.",
		}, []string{"outcome"}),
		transferAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_attempts_total",
			Help:      "HTTP transfer attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		transferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of a single HTTP transfer attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"method"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_activations_total",
			Help:      "Activations consumed from the queue by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.invocations,
		m.renditions,
		m.transferAttempts,
		m.transferDuration,
		m.activations,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Invocation(mode string, err error) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(mode, outcome(err)).Inc()
}

func (m *Metrics) Rendition(err error) {
	if m == nil {
		return
	}
	m.renditions.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) TransferAttempt(method string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.transferAttempts.WithLabelValues(method, outcome(err)).Inc()
	m.transferDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Activation(err error) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
