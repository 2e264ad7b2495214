package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshColumns = `id, token_hash, user_id, created_at, expires_at, revoked_at, revoked_reason, user_agent, ip`

const createToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, token_hash, user_id, created_at, expires_at, revoked_at, revoked_reason, user_agent, ip)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + refreshColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createToken,
		token.ID,
		token.TokenHash,
		token.UserID,
		token.CreatedAt,
		token.ExpiresAt,
		token.RevokedAt,
		token.RevokedReason,
		token.UserAgent,
		token.IP,
	)
	created, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		if isUniqueViolation(err) {
			return created, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
		}
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getToken = `-- name: GetRefreshToken
SELECT ` + refreshColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeRefreshToken if it is not revoked
UPDATE refresh_tokens
SET revoked_at = $3, revoked_reason = $2
WHERE token_hash = $1 AND revoked_at IS NULL
RETURNING ` + refreshColumns

// Revoke token
// Update happens only for not revoked token, so concurrent callers can't both succeed
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenHash string, reason string, at time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, revokeToken, tokenHash, reason, at)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return r.explainMiss(ctx, tokenHash, at)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const isTokenValid = `-- name: IsRefreshTokenValid
SELECT EXISTS (
	SELECT 1 FROM refresh_tokens
	WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
)
`

func (r *RefreshTokenRepo) IsValid(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var valid bool
	err := r.DB.QueryRow(ctx, isTokenValid, tokenHash, now).Scan(&valid)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return valid, nil
}

const revokeAllForUser = `-- name: RevokeAllRefreshTokensForUser
UPDATE refresh_tokens
SET revoked_at = $3, revoked_reason = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Single statement: old token revoked and next one inserted only if the old one was active.
// Concurrent rotations of the same token are serialized by row lock on update,
// the loser re-checks 'revoked_at IS NULL' and gets nothing.
const rotateToken = `-- name: RotateRefreshToken
WITH revoked AS (
	UPDATE refresh_tokens
	SET revoked_at = $2, revoked_reason = '` + models.RevokeReasonRotation + `'
	WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
	RETURNING ` + refreshColumns + `
), inserted AS (
	INSERT INTO refresh_tokens (id, token_hash, user_id, created_at, expires_at, user_agent, ip)
	SELECT $3::uuid, $4::text, revoked.user_id, $5::timestamptz, $6::timestamptz, $7::text, $8::text
	FROM revoked
	RETURNING id
)
SELECT ` + refreshColumns + `
FROM revoked
`

func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldHash string, next models.RefreshToken, at time.Time) (models.RefreshToken, error) {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, rotateToken,
		oldHash,
		at,
		next.ID,
		next.TokenHash,
		next.CreatedAt,
		next.ExpiresAt,
		next.UserAgent,
		next.IP,
	)
	old, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return old, nil
	case errors.Is(err, pgx.ErrNoRows):
		return r.explainMiss(ctx, oldHash, at)
	case isUniqueViolation(err):
		return old, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	default:
		return old, fmt.Errorf("db error: %w", err)
	}
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Conditional update matched nothing: find out why
func (r *RefreshTokenRepo) explainMiss(ctx context.Context, tokenHash string, at time.Time) (models.RefreshToken, error) {
	token, err := r.Get(ctx, tokenHash)
	switch {
	case err != nil:
		return token, err
	case token.Revoked():
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case !at.Before(token.ExpiresAt):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	default:
		return token, fmt.Errorf("db error: token %s was not updated", tokenHash)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &t.RevokedReason, &t.UserAgent, &t.IP)
	return t, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
