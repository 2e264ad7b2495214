package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, username, email, password_hash, role, status, password_changed_at, token_version`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, email, password_hash, role, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + userColumns

// Email stored lower cased, uniqueness is checked by unique index on lower(email)
func (r *UserRepo) CreateUser(ctx context.Context, params repository.CreateUserParams) (models.User, error) {
	role := params.Role
	if role == "" {
		role = models.RoleUser
	}
	status := params.Status
	if status == "" {
		status = models.UserStatusInactive
	}

	rows, _ := r.DB.Query(ctx, createUser,
		uuid.New(),
		params.Username,
		normalizeEmail(params.Email),
		params.PasswordHash,
		role,
		status,
	)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		if isUniqueViolation(err) {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + `
FROM users
WHERE lower(email) = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, normalizeEmail(email))
	return collectUser(rows)
}

const setUserStatus = `-- name: SetUserStatus
UPDATE users
SET status = $2
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetStatus(ctx context.Context, id uuid.UUID, status string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setUserStatus, id, status)
	return collectUser(rows)
}

const setUserPassword = `-- name: SetUserPassword
UPDATE users
SET password_hash = $2, password_changed_at = $3, token_version = token_version + 1
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setUserPassword, id, passwordHash, changedAt)
	return collectUser(rows)
}

const bumpTokenVersion = `-- name: BumpTokenVersion
UPDATE users
SET token_version = token_version + 1
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) BumpTokenVersion(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, bumpTokenVersion, id)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.PasswordChangedAt, &u.TokenVersion)
	return u, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
