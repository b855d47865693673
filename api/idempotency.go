package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"firetrack/internal/consts"
)

const pendingMarker = "-"

// RedisDeduper remembers which project an idempotency key created, so a
// retried create returns the first result on every instance.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("%s:%s:%s", userID, consts.DedupeKeyPrefix, key)
}

// Reserve claims key for userID. fresh is true when the caller owns the key
// and must Commit or Release it. Otherwise existing holds the project id of
// the earlier request, or is empty while that request is still running.
func (r *RedisDeduper) Reserve(ctx context.Context, userID, key string) (existing string, fresh bool, err error) {
	k := r.key(userID, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if added {
		return "", true, nil
	}
	val, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, false, nil
}

// Commit records the project created under key.
func (r *RedisDeduper) Commit(ctx context.Context, userID, key, projectID string) error {
	return r.client.Set(ctx, r.key(userID, key), projectID, r.ttl).Err()
}

// Release deletes a reserved key. It is used when the create fails so the
// caller may retry.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
