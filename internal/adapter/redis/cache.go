package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/eventrelay/internal/domain"
)

var _ domain.Cache = (*Broker)(nil)

// SetCache stores value as JSON under key. A zero ttl stores without expiry.
func (b *Broker) SetCache(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	_, err = Execute(b.breaker, func() (struct{}, error) {
		ctx, cancel := b.withTimeout(ctx)
		defer cancel()
		return struct{}{}, b.cache.Set(ctx, key, payload, ttl).Err()
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// GetCache decodes the value under key into dest and reports whether it was found.
// Broker failures are treated as a miss so callers fall through to the source of truth.
func (b *Broker) GetCache(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := Execute(b.breaker, func() ([]byte, error) {
		ctx, cancel := b.withTimeout(ctx)
		defer cancel()
		v, err := b.cache.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return v, err
	}, func(err error) ([]byte, error) {
		b.cacheMetrics.Fallbacks.Inc()
		slog.Warn("Cache read failed, treating as miss", "key", key, "error", err)
		return nil, nil
	})
	if err != nil {
		return false, err
	}

	if raw == nil {
		b.cacheMetrics.Misses.Inc()
		return false, nil
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		b.cacheMetrics.Misses.Inc()
		return false, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	b.cacheMetrics.Hits.Inc()
	return true, nil
}

// DeleteCache removes the given keys.
func (b *Broker) DeleteCache(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	deleted, err := Execute(b.breaker, func() (int64, error) {
		ctx, cancel := b.withTimeout(ctx)
		defer cancel()
		if b.isCluster() {
			return b.deleteEach(ctx, keys)
		}
		return b.cache.Del(ctx, keys...).Result()
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete cache keys %v: %w", keys, err)
	}

	b.cacheMetrics.Invalidations.Add(float64(deleted))
	return nil
}

func (b *Broker) isCluster() bool {
	_, ok := b.cache.(*goredis.ClusterClient)
	return ok
}

// deleteEach avoids CROSSSLOT errors in cluster mode.
func (b *Broker) deleteEach(ctx context.Context, keys []string) (int64, error) {
	cmds, err := b.cache.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, c := range cmds {
		n += c.(*goredis.IntCmd).Val()
	}
	return n, nil
}
