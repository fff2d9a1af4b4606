package redis

import (
	"context"
	"errors"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
)

// MetricsHook implements redis.Hook to collect metrics on all Redis operations
// of one named connection (publisher, subscriber, cache, or a pool).
type MetricsHook struct {
	connection string
	metrics    *metrics.BrokerMetrics
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(connection string, m *metrics.BrokerMetrics) *MetricsHook {
	return &MetricsHook{connection: connection, metrics: m}
}

// DialHook is called when establishing a new Redis connection
func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.metrics.ConnectionErrors.WithLabelValues(h.connection).Inc()
		}
		return conn, err
	}
}

// ProcessHook is called for every Redis command execution
func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), err, time.Since(start))
		return err
	}
}

// ProcessPipelineHook is called for pipelined Redis commands
func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", err, time.Since(start))
		return err
	}
}

func (h *MetricsHook) observe(operation string, err error, d time.Duration) {
	status := "success"
	if err != nil && !errors.Is(err, goredis.Nil) {
		status = "error"
	}
	h.metrics.Operations.WithLabelValues(h.connection, operation, status).Inc()
	h.metrics.OperationDuration.WithLabelValues(h.connection, operation).Observe(d.Seconds())
}
