package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "huddle"

// Command outcomes recorded on commands_total.
const (
	outcomeOK          = "ok"
	outcomeInvalid     = "invalid"
	outcomeForbidden   = "forbidden"
	outcomeRateLimited = "rate_limited"
	outcomeFailed      = "failed"
)

type metrics struct {
	connectionsActive   prometheus.Gauge
	handshakeRejections prometheus.Counter
	commandsTotal       *prometheus.CounterVec
	messagesPersisted   prometheus.Counter
	persistFailures     prometheus.Counter
	broadcastDeliveries prometheus.Counter
	slowConsumers       prometheus.Counter
	sendDuration        prometheus.Histogram
	roomsActive         prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of authenticated websocket connections",
		}),
		handshakeRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshake_rejections_total",
			Help:      "Connection attempts refused before upgrade",
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Inbound commands by event and outcome",
		}, []string{"event", "outcome"}),
		messagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_persisted_total",
			Help:      "Messages appended to the store",
		}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persist_failures_total",
			Help:      "Message appends that failed",
		}),
		broadcastDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_deliveries_total",
			Help:      "message:new frames queued to subscribers",
		}),
		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slow_consumer_disconnects_total",
			Help:      "Sessions closed because their send buffer was full",
		}),
		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "send_duration_seconds",
			Help:      "Time from message:send receipt to acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}),
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one subscriber",
		}),
	}
}

func (m *metrics) command(event, outcome string) {
	m.commandsTotal.WithLabelValues(event, outcome).Inc()
}
