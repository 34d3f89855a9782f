package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking the engine event stream.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewards",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed engine events segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rewards",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events not delivered to a subscriber whose buffer was full.",
			}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rewards",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Connected event stream subscribers.",
			}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped, eventRegistry.subscribers)
	})
	return eventRegistry
}

// RecordPublished increments the counter for the supplied event type.
func (m *eventMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.published.WithLabelValues(normalized).Inc()
}

// RecordDropped counts an event a slow subscriber missed.
func (m *eventMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// SubscriberJoined and SubscriberLeft track the live subscriber count.
func (m *eventMetrics) SubscriberJoined() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *eventMetrics) SubscriberLeft() {
	if m != nil {
		m.subscribers.Dec()
	}
}
