package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-token-auth/internal/model"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisProfileCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisProfileCache(client, ttl), mr
}

func TestProfileCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	_, hit, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, hit)

	profile := model.Profile{
		ID:        "u1",
		Name:      "Alice",
		Email:     "alice@example.com",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, c.Set(ctx, profile))

	got, hit, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, profile, got)

	require.NoError(t, c.Delete(ctx, "u1"))
	_, hit, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestProfileCacheExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)

	require.NoError(t, c.Set(ctx, model.Profile{ID: "u1", Name: "Alice"}))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"u1"))

	mr.FastForward(2 * time.Minute)

	_, hit, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestProfileCacheKeepsNewerEntry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	older := model.Profile{ID: "u1", Name: "Alice", UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := older
	newer.Name = "Alice Smith"
	newer.UpdatedAt = older.UpdatedAt.Add(time.Second)

	require.NoError(t, c.Set(ctx, newer))
	require.NoError(t, c.Set(ctx, older))

	got, hit, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "Alice Smith", got.Name)

	newest := newer
	newest.Name = "A. Smith"
	newest.UpdatedAt = newer.UpdatedAt.Add(time.Second)
	require.NoError(t, c.Set(ctx, newest))

	got, _, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "A. Smith", got.Name)
}

func TestProfileCacheOverwritesCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)

	require.NoError(t, mr.Set(keyPrefix+"u1", "{not json"))
	require.NoError(t, c.Set(ctx, model.Profile{ID: "u1", Name: "Alice"}))

	got, hit, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "Alice", got.Name)
}

func TestProfileCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)

	require.NoError(t, mr.Set(keyPrefix+"u1", "{not json"))

	_, hit, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists(keyPrefix+"u1"))
}

func TestProfileCacheServerDown(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	_, _, err := c.Get(ctx, "u1")
	require.Error(t, err)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), "://bad")
	require.Error(t, err)
}

func TestNoopProfileCache(t *testing.T) {
	var c NoopProfileCache
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, model.Profile{ID: "u1"}))
	_, hit, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, c.Delete(ctx, "u1"))
}
