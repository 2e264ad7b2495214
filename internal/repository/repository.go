package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/models"
)

type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Status       string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the email (case insensitive) exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	SetStatus(ctx context.Context, userID uuid.UUID, status string) (models.User, error)

	// Replace password hash, set PasswordChangedAt to changedAt and bump TokenVersion
	SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) (models.User, error)

	// Increment TokenVersion so every token issued so far is rejected
	BumpTokenVersion(ctx context.Context, userID uuid.UUID) (models.User, error)
}

// Refresh token ledger
// Tokens are addressed by hash, see models.HashToken
type RefreshTokenRepo interface {
	// Create token in repository
	// Must return apperrors.ErrRefreshTokenExists if token with same hash exists
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even if it is revoked or expired
	// Must return apperrors.ErrRefreshTokenNotFound if not found
	Get(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Revoke active token
	// It is compare and swap: only one caller may revoke the token
	// Must return apperrors.ErrRefreshTokenRevoked if token revoked already
	Revoke(ctx context.Context, tokenHash string, reason string, at time.Time) (models.RefreshToken, error)

	// Token exists, not revoked and not expired at the moment
	IsValid(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// Revoke all active tokens of the user, returns number of revoked tokens
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error)

	// Revoke old token with 'rotation' reason and create next one atomically
	// Next token is not created if old token was revoked or expired:
	// apperrors.ErrRefreshTokenRevoked or apperrors.ErrRefreshTokenExpired returned
	Rotate(ctx context.Context, oldHash string, next models.RefreshToken, at time.Time) (models.RefreshToken, error)

	// Delete tokens expired before the moment
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Access token blacklist
type BlacklistRepo interface {
	// Add entry. Adding token twice is not an error
	Add(ctx context.Context, entry models.BlacklistEntry) error

	// Token is blacklisted and entry is not expired
	Contains(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// Remove entries expired before the moment, returns number of removed entries
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
