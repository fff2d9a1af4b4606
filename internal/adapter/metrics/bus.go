package metrics

import "github.com/prometheus/client_golang/prometheus"

// BusMetrics holds Prometheus metrics for the event bus.
type BusMetrics struct {
	Published     *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
	Consumed      *prometheus.CounterVec
	Suppressed    *prometheus.CounterVec
	HandlerErrors *prometheus.CounterVec
}

// NewBusMetrics creates and registers event bus metrics on the given registry.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Envelopes published by channel.",
		}, []string{"channel"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "publish_errors_total",
			Help:      "Envelopes the broker did not accept, by channel.",
		}, []string{"channel"}),
		Consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "consumed_total",
			Help:      "Envelopes received from the broker and processed, by channel.",
		}, []string{"channel"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "self_originated_suppressed_total",
			Help:      "Self-originated envelopes discarded on receipt, by channel.",
		}, []string{"channel"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "handler_errors_total",
			Help:      "Handler failures (errors and recovered panics) by event type.",
		}, []string{"event_type"}),
	}

	reg.MustRegister(m.Published, m.PublishErrors, m.Consumed, m.Suppressed, m.HandlerErrors)
	return m
}
