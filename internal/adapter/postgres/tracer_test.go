package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
)

func TestQueryName(t *testing.T) {
	assert.Equal(t, "SELECT", queryName("\n  select id from users"))
	assert.Equal(t, "INSERT", queryName("INSERT INTO users VALUES ($1)"))
	assert.Equal(t, "unknown", queryName("   "))
}

func TestMetricsTracer_RecordsDurationAndErrors(t *testing.T) {
	m := metrics.NewDatabaseMetrics(prometheus.NewRegistry())
	tracer := NewMetricsTracer(m)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "UPDATE users SET name = $1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("deadlock")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT id FROM users"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: pgx.ErrNoRows})

	assert.Equal(t, 2, testutil.CollectAndCount(m.QueryDuration))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("UPDATE")), 0)
	assert.Zero(t, testutil.ToFloat64(m.QueryErrors.WithLabelValues("SELECT")))

	// a context without start data is ignored
	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{Err: errors.New("x")})
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("UPDATE")), 0)
}

func TestExtractSSLMode(t *testing.T) {
	assert.Equal(t, "disable", extractSSLMode("postgres://u:p@h/db?sslmode=DISABLE"))
	assert.Equal(t, "prefer (default)", extractSSLMode("postgres://u:p@h/db"))
}
