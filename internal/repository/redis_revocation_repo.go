package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"livestock-track/internal/model"
)

const revokedKeyPrefix = "auth:revoked:"

// RedisRevocationRepository stores one key per revoked token; key expiry is
// the purge mechanism.
type RedisRevocationRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRevocationRepository(client *redis.Client) *RedisRevocationRepository {
	return &RedisRevocationRepository{client: client, now: time.Now}
}

func (r *RedisRevocationRepository) Blacklist(ctx context.Context, entry model.RevocationEntry) error {
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.client.SetNX(ctx, revokedKeyPrefix+entry.TokenHash, entry.UserID, ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (r *RedisRevocationRepository) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}
