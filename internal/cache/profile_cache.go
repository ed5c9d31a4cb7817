// Package cache keeps recently read user profiles in Redis so GET /profile/me
// does not hit PostgreSQL on every call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"go-token-auth/internal/model"
)

const (
	keyPrefix      = "profile:"
	maxSetAttempts = 3
)

type RedisProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	slog.Info("redis connected", "addr", opts.Addr)
	return client, nil
}

func NewRedisProfileCache(client *redis.Client, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{client: client, ttl: ttl}
}

// Get returns (profile, true) on a hit and (zero, false) on a miss.
func (c *RedisProfileCache) Get(ctx context.Context, userID string) (model.Profile, bool, error) {
	val, err := c.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Profile{}, false, nil
	}
	if err != nil {
		return model.Profile{}, false, fmt.Errorf("read cached profile: %w", err)
	}

	var profile model.Profile
	if err := json.Unmarshal(val, &profile); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		_ = c.client.Del(ctx, key(userID)).Err()
		return model.Profile{}, false, nil
	}
	return profile, true, nil
}

// Set stores profile unless the cached entry is newer by UpdatedAt, so a slow
// read-through cannot overwrite the result of a later update.
func (c *RedisProfileCache) Set(ctx context.Context, profile model.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	k := key(profile.ID)
	store := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cached model.Profile
			if json.Unmarshal(current, &cached) == nil && cached.UpdatedAt.After(profile.UpdatedAt) {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, c.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = c.client.Watch(ctx, store, k)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("cache profile: %w", err)
	}
	return nil
}

func (c *RedisProfileCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("evict cached profile: %w", err)
	}
	return nil
}

// NoopProfileCache is used when REDIS_URL is not configured.
type NoopProfileCache struct{}

func (NoopProfileCache) Get(context.Context, string) (model.Profile, bool, error) {
	return model.Profile{}, false, nil
}

func (NoopProfileCache) Set(context.Context, model.Profile) error { return nil }

func (NoopProfileCache) Delete(context.Context, string) error { return nil }

func key(userID string) string {
	return keyPrefix + userID
}
