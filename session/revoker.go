package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"firetrack/internal/consts"
)

// RedisRevoker records signed-out bearer tokens so every API instance rejects
// them until they would have expired anyway.
type RedisRevoker struct {
	client *redis.Client
	maxTTL time.Duration
}

// NewRedisRevoker creates a revoker. maxTTL caps how long a revocation is kept
// when the token expiry is unknown or far away.
func NewRedisRevoker(client *redis.Client, maxTTL time.Duration) *RedisRevoker {
	return &RedisRevoker{client: client, maxTTL: maxTTL}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return consts.RevokedKey(hex.EncodeToString(sum[:]))
}

// Revoke marks token revoked until the given time.
func (r *RedisRevoker) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := r.maxTTL
	if !until.IsZero() {
		if d := time.Until(until); d > 0 && d < ttl {
			ttl = d
		}
	}
	_, err := r.client.SetNX(ctx, tokenKey(token), 1, ttl).Result()
	return err
}

// Revoked reports whether token has been revoked.
func (r *RedisRevoker) Revoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, tokenKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
