package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for WebSocket connections.
type WebSocketMetrics struct {
	ActiveConnections  prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec
	RejectedHandshakes *prometheus.CounterVec
	MessagesReceived   prometheus.Counter
	MessagesSent       prometheus.Counter
	RateLimited        prometheus.Counter
	SlowClientsEvicted prometheus.Counter
	Errors             *prometheus.CounterVec
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections by kind (authenticated/anonymous).",
		}, []string{"kind"}),
		RejectedHandshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_handshakes_total",
			Help:      "Rejected WebSocket handshakes by reason.",
		}, []string{"reason"}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Total client messages received.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages queued to clients.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rate_limited_total",
			Help:      "Client messages rejected by the per-user rate limit.",
		}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "slow_clients_evicted_total",
			Help:      "Clients disconnected because their send buffer was full.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "Protocol errors by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.ConnectionsTotal, m.RejectedHandshakes,
		m.MessagesReceived, m.MessagesSent, m.RateLimited, m.SlowClientsEvicted, m.Errors,
	)
	return m
}
