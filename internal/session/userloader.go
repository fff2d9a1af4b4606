package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// CachedUserLoader reads users through the shared cache and collapses
// concurrent misses for the same id into one repository call.
type CachedUserLoader struct {
	repo  domain.UserRepository
	cache domain.Cache
	ttl   time.Duration
	group singleflight.Group
}

func NewCachedUserLoader(repo domain.UserRepository, cache domain.Cache, ttl time.Duration) *CachedUserLoader {
	return &CachedUserLoader{repo: repo, cache: cache, ttl: ttl}
}

func (l *CachedUserLoader) Load(ctx context.Context, userID string) (*domain.User, error) {
	key := domain.UserCacheKey(userID)

	var cached domain.User
	found, err := l.cache.GetCache(ctx, key, &cached)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read cached user", "user_id", userID, "error", err)
	}
	if found {
		return &cached, nil
	}

	v, err, _ := l.group.Do(userID, func() (any, error) {
		user, err := l.repo.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := l.cache.SetCache(ctx, key, user, l.ttl); err != nil {
			slog.WarnContext(ctx, "Failed to cache user", "user_id", userID, "error", err)
		}
		return user, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return v.(*domain.User), nil
}
