package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes reported by the outbox relay for each row it handles.
const (
	OutboxPublished = "published"
	OutboxRetried   = "retried"
	OutboxParked    = "parked"
)

// OutboxMetrics tracks the relay from outbox_events to Pub/Sub.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	lag    prometheus.Histogram
	polls  *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_publish_lag_seconds",
			Help:    "Time between an event being written and it reaching Pub/Sub.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_polls_total",
			Help: "Publisher poll cycles, by result (events, empty, error).",
		}, []string{"result"}),
	}
	reg.MustRegister(m.events, m.lag, m.polls)
	return m
}

// ObserveEvent counts one row. Lag is only recorded for published rows.
func (m *OutboxMetrics) ObserveEvent(eventType, outcome string, createdAt time.Time) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
	if outcome == OutboxPublished && !createdAt.IsZero() {
		m.lag.Observe(time.Since(createdAt).Seconds())
	}
}

func (m *OutboxMetrics) IncPoll(result string) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.WithLabelValues(normalizeLabel(result)).Inc()
}
