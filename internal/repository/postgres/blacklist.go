package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/authcore/internal/models"
)

type BlacklistRepo struct {
	DB DBTX
}

const addToBlacklist = `-- name: AddToBlacklist, ignores already blacklisted tokens
INSERT INTO token_blacklist (token_hash, token_type, user_id, expires_at, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (token_hash) DO NOTHING
`

func (r *BlacklistRepo) Add(ctx context.Context, entry models.BlacklistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := r.DB.Exec(ctx, addToBlacklist,
		entry.TokenHash,
		entry.TokenType,
		entry.UserID,
		entry.ExpiresAt,
		entry.Reason,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const isBlacklisted = `-- name: IsBlacklisted
SELECT EXISTS (
	SELECT 1 FROM token_blacklist
	WHERE token_hash = $1 AND expires_at > $2
)
`

func (r *BlacklistRepo) Contains(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var found bool
	err := r.DB.QueryRow(ctx, isBlacklisted, tokenHash, now).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return found, nil
}

const purgeBlacklist = `-- name: PurgeExpiredBlacklist
DELETE FROM token_blacklist
WHERE expires_at <= $1
`

func (r *BlacklistRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, purgeBlacklist, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
