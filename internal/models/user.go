package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive" // waits for email verification
	UserStatusDisabled = "disabled"
)

type User struct {
	ID                uuid.UUID
	CreatedAt         time.Time
	Username          string
	Email             string
	PasswordHash      string
	Role              string
	Status            string
	PasswordChangedAt *time.Time // nil if password never changed

	// Tokens issued with lower version are rejected
	// Bumped on password change and when every session is revoked
	TokenVersion int
}

func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}
