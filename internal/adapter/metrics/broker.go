package metrics

import "github.com/prometheus/client_golang/prometheus"

// BrokerMetrics holds Prometheus metrics for the Redis broker connections.
type BrokerMetrics struct {
	Operations          *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	ConnectionErrors    *prometheus.CounterVec
	BreakerState        prometheus.Gauge
	BreakerStateChanges *prometheus.CounterVec
	BreakerRejections   prometheus.Counter
	MessagesReceived    *prometheus.CounterVec
	MessagesMalformed   *prometheus.CounterVec
}

// NewBrokerMetrics creates and registers broker metrics on the given registry.
func NewBrokerMetrics(reg prometheus.Registerer) *BrokerMetrics {
	m := &BrokerMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "operations_total",
			Help:      "Total Redis operations by connection, command and status.",
		}, []string{"connection", "operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "operation_duration_seconds",
			Help:      "Redis operation duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}, []string{"connection", "operation"}),
		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connection_errors_total",
			Help:      "Total Redis dial errors by connection.",
		}, []string{"connection"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BreakerStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker transitions by new state.",
		}, []string{"state"}),
		BreakerRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "circuit_breaker_rejections_total",
			Help:      "Operations short-circuited while the breaker was open.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "messages_received_total",
			Help:      "Pub/sub messages received by channel.",
		}, []string{"channel"}),
		MessagesMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "messages_malformed_total",
			Help:      "Pub/sub messages dropped because they could not be decoded.",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.Operations, m.OperationDuration, m.ConnectionErrors,
		m.BreakerState, m.BreakerStateChanges, m.BreakerRejections,
		m.MessagesReceived, m.MessagesMalformed,
	)
	return m
}
