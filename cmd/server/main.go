package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/eventrelay/internal/adapter/auth"
	"github.com/pscheid92/eventrelay/internal/adapter/httpserver"
	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/adapter/postgres"
	"github.com/pscheid92/eventrelay/internal/adapter/redis"
	"github.com/pscheid92/eventrelay/internal/eventbus"
	"github.com/pscheid92/eventrelay/internal/platform/config"
	"github.com/pscheid92/eventrelay/internal/platform/logging"
	"github.com/pscheid92/eventrelay/internal/platform/version"
	"github.com/pscheid92/eventrelay/internal/session"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	userCacheTTL    = 60 * time.Second
	activityTTL     = 24 * time.Hour
	auditQueueLen   = 10000
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(ctx context.Context, cfg *config.Config, dm *metrics.DatabaseMetrics) *pgxpool.Pool {
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, dm)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupBroker(ctx context.Context, cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) *redis.Broker {
	opts := redis.Options{
		URL:            cfg.RedisURL,
		Addrs:          cfg.RedisAddresses(),
		Password:       cfg.RedisPassword,
		ClusterMode:    cfg.RedisMode == config.RedisModeCluster,
		DialTimeout:    cfg.RedisDialTimeout,
		CommandTimeout: cfg.RedisCommandTimeout,
		InstanceID:     cfg.InstanceID,
		MaxFailures:    cfg.BreakerMaxFailures,
		OpenTimeout:    cfg.BreakerOpenTimeout,
	}
	if cfg.RedisMode == config.RedisModeSentinel {
		opts.SentinelMaster = cfg.RedisSentinelMaster
	}

	broker, err := redis.NewBroker(opts, clock, metrics.NewBrokerMetrics(reg), metrics.NewCacheMetrics(reg))
	if err != nil {
		slog.Error("Failed to create Redis broker", "error", err)
		os.Exit(1)
	}
	if err := broker.Connect(ctx); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return broker
}

func runGracefulShutdown(srv *httpserver.Server, manager *session.Manager) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("Shutdown signal received, cleaning up", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// stop accepting handshakes first; hijacked sockets are closed by the manager
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := manager.Shutdown(ctx); err != nil {
			slog.Error("Session manager shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.InstanceID)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String(), "redis_mode", cfg.RedisMode)

	reg := metrics.NewRegistry()

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	pool := setupDB(startCtx, cfg, metrics.NewDatabaseMetrics(reg))
	defer pool.Close()

	broker := setupBroker(startCtx, cfg, clock, reg)
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("Failed to close Redis broker", "error", err)
		}
	}()

	users := postgres.NewUserRepo(pool)
	authenticator := session.NewAuthenticator(
		auth.NewHMACVerifier(cfg.JWTSecret),
		session.NewCachedUserLoader(users, broker, userCacheTTL),
	)

	manager := session.NewManager(authenticator, session.Options{
		InstanceID:         cfg.InstanceID,
		RateLimitPerMinute: cfg.WSRateLimitPerMinute,
		MaxConnections:     cfg.WSMaxConnections,
		Clock:              clock,
		Metrics:            metrics.NewWebSocketMetrics(reg),
		Activity:           redis.NewActivityStore(broker.Pool(redis.PoolWebSocket), activityTTL),
		CheckOrigin:        session.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
	})

	bus := eventbus.New(broker, manager, metrics.NewBusMetrics(reg), clock)
	if err := eventbus.RegisterBuiltins(bus, eventbus.Builtins{
		Cache: broker,
		Relay: manager,
		Audit: redis.NewAuditQueue(broker.Pool(redis.PoolJobs), auditQueueLen),
	}); err != nil {
		slog.Error("Failed to register event handlers", "error", err)
		os.Exit(1)
	}
	if err := bus.Start(context.Background()); err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}

	srv := httpserver.NewServer(httpserver.Options{
		Port:       cfg.Port,
		InstanceID: cfg.InstanceID,
		WebSocket:  manager,
		Metrics:    metrics.Handler(reg),
		Components: []httpserver.Component{
			{Name: "broker", Report: func() (string, any) { h := broker.GetHealth(); return h.Status, h }},
			{Name: "eventBus", Report: func() (string, any) { h := bus.GetHealth(); return h.Status, h }},
			{Name: "webSocket", Report: func() (string, any) { h := manager.GetHealth(); return h.Status, h }},
		},
		ReadyChecks: []httpserver.HealthCheck{
			{Name: "redis", Check: broker.HealthCheck},
			{Name: "postgres", Check: users.Ping},
		},
		HandshakeRatePerSecond: cfg.HandshakeRatePerSec,
		HandshakeBurst:         cfg.HandshakeBurst,
		Clock:                  clock,
	})

	done := runGracefulShutdown(srv, manager)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
