package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
)

// unreachableBroker points at a closed local port and never retries.
func unreachableBroker(t *testing.T, clock clockwork.Clock) (*Broker, *metrics.BrokerMetrics, *metrics.CacheMetrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	bm := metrics.NewBrokerMetrics(reg)
	cm := metrics.NewCacheMetrics(reg)

	b, err := NewBroker(Options{
		URL:            "redis://127.0.0.1:1",
		DialTimeout:    100 * time.Millisecond,
		CommandTimeout: 200 * time.Millisecond,
		MaxRetries:     -1,
		InstanceID:     "instance-a",
		MaxFailures:    5,
		OpenTimeout:    time.Minute,
	}, clock, bm, cm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, bm, cm
}

func TestOptions_Universal(t *testing.T) {
	t.Run("standalone URL", func(t *testing.T) {
		u, err := Options{URL: "redis://:secret@localhost:6380/2"}.universal()
		require.NoError(t, err)
		assert.Equal(t, []string{"localhost:6380"}, u.Addrs)
		assert.Equal(t, "secret", u.Password)
		assert.Equal(t, 2, u.DB)
	})

	t.Run("cluster ignores URL", func(t *testing.T) {
		u, err := Options{
			URL:         "redis://localhost:6379",
			Addrs:       []string{"a:7000", "b:7001"},
			ClusterMode: true,
		}.universal()
		require.NoError(t, err)
		assert.True(t, u.IsClusterMode)
		assert.Equal(t, []string{"a:7000", "b:7001"}, u.Addrs)
	})

	t.Run("sentinel", func(t *testing.T) {
		u, err := Options{Addrs: []string{"s1:26379"}, SentinelMaster: "mymaster"}.universal()
		require.NoError(t, err)
		assert.Equal(t, "mymaster", u.MasterName)
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := Options{URL: "http://nope"}.universal()
		assert.Error(t, err)
	})

	t.Run("no address", func(t *testing.T) {
		_, err := Options{}.universal()
		assert.Error(t, err)
	})
}

func TestNewBroker_PoolsAndDefaults(t *testing.T) {
	b, _, _ := unreachableBroker(t, clockwork.NewFakeClock())

	assert.NotNil(t, b.Pool(PoolWebSocket))
	assert.NotNil(t, b.Pool(PoolJobs))
	assert.Nil(t, b.Pool("nope"))
	assert.Equal(t, "instance-a", b.InstanceID())

	h := b.GetHealth()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, StateClosed, h.Breaker.State)
	assert.Equal(t, []string{PoolJobs, PoolWebSocket}, h.Pools)
}

func TestPublish_StampsEnvelope(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	b, _, _ := unreachableBroker(t, clock)

	env := &domain.Envelope{
		Type:     string(domain.EventPlanUpdated),
		Metadata: domain.Metadata{OriginInstanceID: "spoofed"},
	}
	_, err := b.Publish(context.Background(), domain.ChannelPlan, env)
	require.Error(t, err)

	assert.Equal(t, "instance-a", env.Metadata.OriginInstanceID)
	assert.Equal(t, int64(1_700_000_000_000), env.Metadata.Timestamp)

	preset := &domain.Envelope{Type: string(domain.EventPlanUpdated), Metadata: domain.Metadata{Timestamp: 7}}
	_, _ = b.Publish(context.Background(), domain.ChannelPlan, preset)
	assert.Equal(t, int64(7), preset.Metadata.Timestamp)
}

func TestPublish_BreakerOpensAndStopsCallingRedis(t *testing.T) {
	b, bm, _ := unreachableBroker(t, clockwork.NewRealClock())
	ctx := context.Background()
	calls := bm.Operations.WithLabelValues(connPublisher, "publish", "error")

	for i := range 5 {
		_, err := b.Publish(ctx, domain.ChannelPlan, &domain.Envelope{Type: string(domain.EventPlanUpdated)})
		require.Error(t, err, "publish %d", i+1)
		assert.NotErrorIs(t, err, domain.ErrCircuitOpen)
	}
	require.Equal(t, StateOpen, b.Breaker().State())
	before := testutil.ToFloat64(calls)
	assert.InDelta(t, 5.0, before, 0)

	_, err := b.Publish(ctx, domain.ChannelPlan, &domain.Envelope{Type: string(domain.EventPlanUpdated)})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	assert.InDelta(t, before, testutil.ToFloat64(calls), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(bm.BreakerRejections), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(bm.BreakerState), 0)
	assert.Equal(t, "degraded", b.GetHealth().Status)
}

func TestGetCache_FallsBackToMissWhenUnavailable(t *testing.T) {
	b, _, cm := unreachableBroker(t, clockwork.NewRealClock())

	var dest map[string]string
	found, err := b.GetCache(context.Background(), domain.CacheKeyAllPlans, &dest)
	require.NoError(t, err)
	assert.False(t, found)
	assert.InDelta(t, 1.0, testutil.ToFloat64(cm.Fallbacks), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(cm.Misses), 0)
}

func TestSetAndDeleteCache_PropagateErrors(t *testing.T) {
	b, _, _ := unreachableBroker(t, clockwork.NewRealClock())
	ctx := context.Background()

	assert.Error(t, b.SetCache(ctx, "k", "v", time.Minute))
	assert.Error(t, b.DeleteCache(ctx, "k"))
	assert.NoError(t, b.DeleteCache(ctx))
}

func TestHealthCheck_ReportsEveryConnection(t *testing.T) {
	b, _, _ := unreachableBroker(t, clockwork.NewRealClock())

	err := b.HealthCheck(context.Background())
	require.Error(t, err)
	for _, name := range []string{connPublisher, connSubscriber, connCache} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestPublishAndSubscribe_RejectUnknownChannel(t *testing.T) {
	b, bm, _ := unreachableBroker(t, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := b.Publish(ctx, domain.Channel("events:billing"), &domain.Envelope{Type: "x"})
	require.ErrorIs(t, err, domain.ErrUnknownChannel)

	err = b.Subscribe(ctx, []domain.Channel{domain.ChannelPlan, "events:billing"}, func(context.Context, domain.Channel, *domain.Envelope) {})
	require.ErrorIs(t, err, domain.ErrUnknownChannel)

	assert.Equal(t, 0, testutil.CollectAndCount(bm.Operations))
	assert.Equal(t, StateClosed, b.Breaker().State())
}
