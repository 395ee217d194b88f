// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plusbot"

// Metrics implements karma.Observer. A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	eventsTotal    *prometheus.CounterVec
	scoreChanges   *prometheus.CounterVec
	handleDuration *prometheus.HistogramVec
	repliesTotal   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg, or on a fresh registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Chat events processed, by event type and outcome.",
		}, []string{"type", "outcome"}),
		scoreChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_changes_total",
			Help:      "Score mutations applied, by operation.",
		}, []string{"operation"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one event, by transport.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport"}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies handed to transports, by transport and delivery kind.",
		}, []string{"transport", "kind"}),
	}

	reg.MustRegister(
		m.eventsTotal,
		m.scoreChanges,
		m.handleDuration,
		m.repliesTotal,
	)
	return m
}

func (m *Metrics) EventHandled(eventType, outcome string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ScoreChanged(operation string) {
	if m == nil {
		return
	}
	m.scoreChanges.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveHandle(transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.handleDuration.WithLabelValues(transport).Observe(d.Seconds())
}

func (m *Metrics) ReplySent(transport string, direct bool) {
	if m == nil {
		return
	}
	kind := "channel"
	if direct {
		kind = "direct"
	}
	m.repliesTotal.WithLabelValues(transport, kind).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
