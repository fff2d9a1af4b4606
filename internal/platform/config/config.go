package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	RedisModeStandalone = "standalone"
	RedisModeCluster    = "cluster"
	RedisModeSentinel   = "sentinel"
)

type Config struct {
	AppEnv     string `env:"APP_ENV" default:"development"`
	Port       string `env:"PORT" default:"8080"`
	AppURL     string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel   string `env:"LOG_LEVEL" default:"info"`
	LogFormat  string `env:"LOG_FORMAT" default:"text"`
	InstanceID string `env:"INSTANCE_ID" default:"unknown"`

	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`

	RedisURL            string        `env:"REDIS_URL"`
	RedisHost           string        `env:"REDIS_HOST"`
	RedisPort           string        `env:"REDIS_PORT" default:"6379"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisMode           string        `env:"REDIS_MODE" default:"standalone"`
	RedisAddrs          string        `env:"REDIS_ADDRS"`
	RedisSentinelMaster string        `env:"REDIS_SENTINEL_MASTER"`
	RedisDialTimeout    time.Duration `env:"REDIS_DIAL_TIMEOUT" default:"10s"`
	RedisCommandTimeout time.Duration `env:"REDIS_COMMAND_TIMEOUT" default:"5s"`

	BreakerMaxFailures int           `env:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" default:"30s"`

	WSRateLimitPerMinute int     `env:"WS_RATE_LIMIT_PER_MINUTE" default:"60"`
	WSMaxConnections     int     `env:"WS_MAX_CONNECTIONS" default:"10000"`
	HandshakeRatePerSec  float64 `env:"HANDSHAKE_RATE_PER_SECOND" default:"20"`
	HandshakeBurst       int     `env:"HANDSHAKE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"JWT_SECRET":   cfg.JWTSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	switch cfg.RedisMode {
	case RedisModeStandalone:
		if cfg.RedisURL == "" && cfg.RedisHost == "" {
			return errors.New("REDIS_URL or REDIS_HOST is required")
		}
	case RedisModeCluster:
		if cfg.RedisAddrs == "" {
			return errors.New("REDIS_ADDRS is required in cluster mode")
		}
	case RedisModeSentinel:
		if cfg.RedisAddrs == "" || cfg.RedisSentinelMaster == "" {
			return errors.New("REDIS_ADDRS and REDIS_SENTINEL_MASTER are required in sentinel mode")
		}
	default:
		return fmt.Errorf("REDIS_MODE must be one of standalone, cluster, sentinel, got %q", cfg.RedisMode)
	}

	if len(cfg.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if cfg.BreakerMaxFailures < 1 {
		return errors.New("BREAKER_MAX_FAILURES must be at least 1")
	}
	if cfg.BreakerOpenTimeout <= 0 {
		return errors.New("BREAKER_OPEN_TIMEOUT must be positive")
	}
	if cfg.WSRateLimitPerMinute < 1 {
		return errors.New("WS_RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "unknown"
	}

	return nil
}

// RedisAddresses returns the broker addresses for the configured mode.
// Standalone mode without REDIS_URL uses REDIS_HOST:REDIS_PORT.
func (c *Config) RedisAddresses() []string {
	if c.RedisMode != RedisModeStandalone {
		var addrs []string
		for _, a := range strings.Split(c.RedisAddrs, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		return addrs
	}
	return []string{net.JoinHostPort(c.RedisHost, c.RedisPort)}
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
