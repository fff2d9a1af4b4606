package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/eventrelay/internal/domain"
)

const activityKeyPrefix = "activity:user:"

// ActivityStore keeps a last-seen marker per user on the websocket pool.
type ActivityStore struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

var _ domain.ActivityTracker = (*ActivityStore)(nil)

func NewActivityStore(rdb goredis.UniversalClient, ttl time.Duration) *ActivityStore {
	return &ActivityStore{rdb: rdb, ttl: ttl}
}

func activityKey(userID string) string { return activityKeyPrefix + userID }

func (s *ActivityStore) Touch(ctx context.Context, userID string, at time.Time) error {
	if err := s.rdb.Set(ctx, activityKey(userID), at.UnixMilli(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record activity for %s: %w", userID, err)
	}
	return nil
}

// LastSeen returns the stored marker, or the zero time when none exists.
func (s *ActivityStore) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	millis, err := s.rdb.Get(ctx, activityKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read activity for %s: %w", userID, err)
	}
	return time.UnixMilli(millis), nil
}
