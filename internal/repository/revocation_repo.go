package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"livestock-track/internal/model"
)

type RevocationRepository struct {
	pool *pgxpool.Pool
}

func NewRevocationRepository(pool *pgxpool.Pool) *RevocationRepository {
	return &RevocationRepository{pool: pool}
}

func (r *RevocationRepository) Blacklist(ctx context.Context, entry model.RevocationEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO revoked_tokens (token_hash, token_type, user_id, reason, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (token_hash) DO NOTHING`,
		entry.TokenHash, entry.Type, entry.UserID, entry.Reason, entry.ExpiresAt, createdAt)
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}

	if purged, err := r.PurgeExpired(ctx); err != nil {
		slog.Warn("purge revoked tokens failed", "error", err)
	} else if purged > 0 {
		slog.Debug("purged revoked tokens", "count", purged)
	}

	return nil
}

func (r *RevocationRepository) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1 AND expires_at > now())`,
		tokenHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

func (r *RevocationRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
