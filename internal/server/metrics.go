package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the dispatcher. A nil *Metrics
// records nothing.
type Metrics struct {
	activeConnections prometheus.Gauge
	eventsTotal       *prometheus.CounterVec
	eventDuration     *prometheus.HistogramVec
	decodeErrors      prometheus.Counter
	rejected          *prometheus.CounterVec
	messagesStored    prometheus.Counter
	userListBroadcast prometheus.Counter
}

// NewMetrics registers the chat collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "active_connections",
			Help:      "Number of open client connections",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "events_total",
			Help:      "Total number of client events processed",
		}, []string{"event"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roomchat",
			Name:      "event_duration_seconds",
			Help:      "Client event processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "decode_errors_total",
			Help:      "Total number of malformed frames received",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "rejected_total",
			Help:      "Total number of client requests answered with an error",
		}, []string{"cause"}),
		messagesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "messages_stored_total",
			Help:      "Total number of chat messages persisted",
		}),
		userListBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "user_list_broadcasts_total",
			Help:      "Total number of user list broadcasts",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.activeConnections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.activeConnections.Dec()
	}
}

func (m *Metrics) observeEvent(event string, start time.Time) {
	if m != nil {
		m.eventsTotal.WithLabelValues(event).Inc()
		m.eventDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) rejectedEvent(cause string) {
	if m != nil {
		m.rejected.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) messageStored() {
	if m != nil {
		m.messagesStored.Inc()
	}
}

func (m *Metrics) userListBroadcasted() {
	if m != nil {
		m.userListBroadcast.Inc()
	}
}
