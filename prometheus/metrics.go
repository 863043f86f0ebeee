// Package prometheus exports esclient metrics to Prometheus.
package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/terraskye/esclient"
)

const namespace = "esclient"

// Metrics implements esclient.Metrics.
type Metrics struct {
	appendDuration  *prom.HistogramVec
	eventsAppended  *prom.CounterVec
	conflicts       *prom.CounterVec
	readDuration    *prom.HistogramVec
	eventsRead      *prom.CounterVec
	handlerDuration *prom.HistogramVec
	delivered       *prom.CounterVec
	inFlight        *prom.GaugeVec
}

var _ esclient.Metrics = (*Metrics)(nil)

// NewMetrics registers the collectors with reg. A nil reg uses the default registerer.
func NewMetrics(reg prom.Registerer) *Metrics {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		appendDuration: f.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "append_duration_seconds",
				Help:      "Duration of conditional appends in seconds",
				Buckets:   prom.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
			[]string{"category"},
		),
		eventsAppended: f.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "events_appended_total",
				Help:      "Total number of events appended",
			},
			[]string{"category"},
		),
		conflicts: f.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "concurrency_conflicts_total",
				Help:      "Total number of appends rejected by optimistic concurrency control",
			},
			[]string{"category"},
		),
		readDuration: f.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "read_duration_seconds",
				Help:      "Duration of aggregate history reads in seconds",
				Buckets:   prom.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"category"},
		),
		eventsRead: f.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "events_read_total",
				Help:      "Total number of events read",
			},
			[]string{"category"},
		),
		handlerDuration: f.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "handler_duration_seconds",
				Help:      "Duration of subscription handler calls in seconds",
				Buckets:   prom.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"event_type"},
		),
		delivered: f.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "deliveries_total",
				Help:      "Total number of subscription deliveries by outcome",
			},
			[]string{"event_type", "outcome"},
		),
		inFlight: f.NewGaugeVec(
			prom.GaugeOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "in_flight",
				Help:      "Number of received but not yet settled entries",
			},
			[]string{"group"},
		),
	}
}

// timer adapts *prom.Timer, whose ObserveDuration also returns the duration.
type timer struct {
	t *prom.Timer
}

func (t timer) ObserveDuration() {
	t.t.ObserveDuration()
}

func (m *Metrics) AppendDuration(category string) esclient.Timer {
	return timer{prom.NewTimer(m.appendDuration.WithLabelValues(category))}
}

func (m *Metrics) EventsAppended(category string, count int) {
	m.eventsAppended.WithLabelValues(category).Add(float64(count))
}

func (m *Metrics) ConcurrencyConflict(category string) {
	m.conflicts.WithLabelValues(category).Inc()
}

func (m *Metrics) ReadDuration(category string) esclient.Timer {
	return timer{prom.NewTimer(m.readDuration.WithLabelValues(category))}
}

func (m *Metrics) EventsRead(category string, count int) {
	m.eventsRead.WithLabelValues(category).Add(float64(count))
}

func (m *Metrics) HandlerDuration(eventType string) esclient.Timer {
	return timer{prom.NewTimer(m.handlerDuration.WithLabelValues(eventType))}
}

func (m *Metrics) EventDelivered(eventType string, outcome esclient.DeliveryOutcome) {
	m.delivered.WithLabelValues(eventType, string(outcome)).Inc()
}

func (m *Metrics) InFlight(group string, delta int) {
	m.inFlight.WithLabelValues(group).Add(float64(delta))
}
