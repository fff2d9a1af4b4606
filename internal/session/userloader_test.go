package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/eventrelay/internal/domain"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) SetCache(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = b
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) GetCache(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	b, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (c *memoryCache) DeleteCache(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

type countingRepo struct {
	calls atomic.Int32
	users map[string]*domain.User
	gate  chan struct{}
}

func (r *countingRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.calls.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func TestCachedUserLoader_ReadsThroughCache(t *testing.T) {
	repo := &countingRepo{users: map[string]*domain.User{"u1": {ID: "u1", Role: domain.RoleAdmin, Status: domain.UserStatusActive}}}
	cache := newMemoryCache()
	loader := NewCachedUserLoader(repo, cache, time.Minute)
	ctx := context.Background()

	u, err := loader.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	assert.Equal(t, time.Minute, cache.ttls[domain.UserCacheKey("u1")])

	u, err = loader.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, int32(1), repo.calls.Load())

	require.NoError(t, cache.DeleteCache(ctx, domain.UserCacheKey("u1")))
	_, err = loader.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestCachedUserLoader_NotFound(t *testing.T) {
	loader := NewCachedUserLoader(&countingRepo{}, newMemoryCache(), time.Minute)

	_, err := loader.Load(context.Background(), "nobody")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCachedUserLoader_CollapsesConcurrentMisses(t *testing.T) {
	repo := &countingRepo{
		users: map[string]*domain.User{"u1": {ID: "u1", Status: domain.UserStatusActive}},
		gate:  make(chan struct{}),
	}
	loader := NewCachedUserLoader(repo, newMemoryCache(), time.Minute)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := loader.Load(context.Background(), "u1")
			assert.NoError(t, err)
			assert.Equal(t, "u1", u.ID)
		}()
	}

	require.Eventually(t, func() bool { return repo.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	assert.Equal(t, int32(1), repo.calls.Load())
}
