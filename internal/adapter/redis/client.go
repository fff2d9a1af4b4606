package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/platform/retry"
)

// Named connection pools handed to other subsystems.
const (
	PoolWebSocket = "websocket"
	PoolJobs      = "jobs"
)

const (
	connPublisher  = "publisher"
	connSubscriber = "subscriber"
	connCache      = "cache"
)

// Options configures the broker connections.
type Options struct {
	// URL is used in standalone mode; Addrs otherwise (or when URL is empty).
	URL            string
	Addrs          []string
	Password       string
	ClusterMode    bool
	SentinelMaster string

	DialTimeout    time.Duration
	CommandTimeout time.Duration
	MaxRetries     int // go-redis semantics: -1 disables retries

	InstanceID  string
	MaxFailures int
	OpenTimeout time.Duration
}

func (o Options) universal() (*goredis.UniversalOptions, error) {
	u := &goredis.UniversalOptions{
		Addrs:        o.Addrs,
		Password:     o.Password,
		MasterName:   o.SentinelMaster,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.CommandTimeout,
		WriteTimeout: o.CommandTimeout,
		MaxRetries:   o.MaxRetries,
	}
	if o.ClusterMode {
		u.IsClusterMode = true
	}

	if o.URL != "" && !o.ClusterMode && o.SentinelMaster == "" {
		parsed, err := goredis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		u.Addrs = []string{parsed.Addr}
		u.Username = parsed.Username
		u.Password = parsed.Password
		u.DB = parsed.DB
		u.TLSConfig = parsed.TLSConfig
	}

	if len(u.Addrs) == 0 {
		return nil, errors.New("no redis address configured")
	}
	return u, nil
}

// Broker owns the publish, subscribe and cache connections to Redis plus the named pools.
// Every public operation except HealthCheck runs through the circuit breaker.
type Broker struct {
	instanceID     string
	commandTimeout time.Duration
	clock          clockwork.Clock

	publisher  goredis.UniversalClient
	subscriber goredis.UniversalClient
	cache      goredis.UniversalClient
	pools      map[string]goredis.UniversalClient

	breaker      *CircuitBreaker
	metrics      *metrics.BrokerMetrics
	cacheMetrics *metrics.CacheMetrics

	mu   sync.Mutex
	subs []*goredis.PubSub
}

// NewBroker creates the connections. Nothing is dialled until first use; call Connect to wait for Redis.
func NewBroker(opts Options, clock clockwork.Clock, bm *metrics.BrokerMetrics, cm *metrics.CacheMetrics) (*Broker, error) {
	uopts, err := opts.universal()
	if err != nil {
		return nil, err
	}

	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = "unknown"
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 5 * time.Second
	}

	b := &Broker{
		instanceID:     instanceID,
		commandTimeout: opts.CommandTimeout,
		clock:          clock,
		pools:          make(map[string]goredis.UniversalClient),
		metrics:        bm,
		cacheMetrics:   cm,
	}

	newConn := func(name string) goredis.UniversalClient {
		o := *uopts
		o.ClientName = instanceID + ":" + name
		c := goredis.NewUniversalClient(&o)
		c.AddHook(NewMetricsHook(name, bm))
		return c
	}

	b.publisher = newConn(connPublisher)
	b.subscriber = newConn(connSubscriber)
	b.cache = newConn(connCache)
	b.pools[PoolWebSocket] = newConn(PoolWebSocket)
	b.pools[PoolJobs] = newConn(PoolJobs)

	bm.BreakerState.Set(stateToFloat(StateClosed))
	b.breaker = NewCircuitBreaker(BreakerSettings{
		Name:        "redis",
		MaxFailures: uint32(max(opts.MaxFailures, 1)),
		OpenTimeout: opts.OpenTimeout,
		Probe:       b.ping,
		Clock:       clock,
		OnStateChange: func(_, to BreakerState) {
			bm.BreakerStateChanges.WithLabelValues(string(to)).Inc()
			bm.BreakerState.Set(stateToFloat(to))
		},
		OnRejected: bm.BreakerRejections.Inc,
	})

	return b, nil
}

// Connect waits until all core connections answer a ping.
func (b *Broker) Connect(ctx context.Context) error {
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	if err := retry.DoVoid(ctx, policy, retry.Always, b.HealthCheck); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("Connected to Redis", "instance_id", b.instanceID)
	return nil
}

// InstanceID is the id stamped on every published envelope.
func (b *Broker) InstanceID() string { return b.instanceID }

// Breaker exposes the circuit breaker shared by all broker operations.
func (b *Broker) Breaker() *CircuitBreaker { return b.breaker }

// Pool returns a named long-lived connection, or nil for an unknown name.
func (b *Broker) Pool(name string) goredis.UniversalClient {
	return b.pools[name]
}

func (b *Broker) poolNames() []string {
	names := make([]string, 0, len(b.pools))
	for name := range b.pools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (b *Broker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.commandTimeout)
}

func (b *Broker) ping(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.publisher.Ping(ctx).Err()
}

// HealthCheck pings the publish, subscribe and cache connections.
func (b *Broker) HealthCheck(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var errs []error
	for name, c := range map[string]goredis.UniversalClient{
		connPublisher:  b.publisher,
		connSubscriber: b.subscriber,
		connCache:      b.cache,
	} {
		if err := c.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s ping failed: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Health is the broker section of the process health document.
type Health struct {
	Status     string          `json:"status"`
	InstanceID string          `json:"instanceId"`
	Breaker    BreakerSnapshot `json:"circuitBreaker"`
	Pools      []string        `json:"pools"`
}

// GetHealth reports breaker state without touching Redis.
func (b *Broker) GetHealth() Health {
	snap := b.breaker.Snapshot()
	status := "healthy"
	if snap.State != StateClosed {
		status = "degraded"
	}
	return Health{
		Status:     status,
		InstanceID: b.instanceID,
		Breaker:    snap,
		Pools:      b.poolNames(),
	}
}

// Close stops subscriptions and closes every connection.
func (b *Broker) Close() error {
	b.breaker.Stop()

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range []goredis.UniversalClient{b.publisher, b.subscriber, b.cache} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range b.poolNames() {
		if err := b.pools[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
