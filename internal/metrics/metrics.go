// Package metrics exposes pipeline and delivery counters on a private
// Prometheus registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsnotifier"

type Metrics struct {
	reg *prometheus.Registry

	cycleDuration      *prometheus.HistogramVec
	envelopes          *prometheus.CounterVec
	familyFailures     *prometheus.CounterVec
	decorationFailures prometheus.Counter
	deliveries         *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	events             *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	m := &Metrics{
		reg: reg,
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent processing one snapshot.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"platform", "outcome"}),
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Envelopes handed to the broadcaster.",
		}, []string{"platform", "family"}),
		familyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "family_failures_total",
			Help:      "Families that failed during a cycle.",
		}, []string{"platform", "family"}),
		decorationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoration_failures_total",
			Help:      "Thumbnail lookups that errored.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Message sends by outcome.",
		}, []string{"outcome"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_queue_depth",
			Help:      "Jobs waiting in the broadcast queue.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Internal events seen on the bus.",
		}, []string{"type"}),
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveCycle(platform, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(platform, outcome).Observe(d.Seconds())
}

func (m *Metrics) IncEnvelope(platform, family string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.envelopes.WithLabelValues(platform, family).Add(float64(n))
}

func (m *Metrics) IncFamilyFailure(platform, family string) {
	if m == nil {
		return
	}
	m.familyFailures.WithLabelValues(platform, family).Inc()
}

func (m *Metrics) IncDecorationFailure() {
	if m == nil {
		return
	}
	m.decorationFailures.Inc()
}

func (m *Metrics) IncDelivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) IncEvent(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ).Inc()
}
