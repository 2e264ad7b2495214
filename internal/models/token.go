package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Reasons for refresh token revocation or access token blacklisting
const (
	RevokeReasonLogout         = "logout"
	RevokeReasonRotation       = "rotation"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonAdmin          = "admin_revoke"
	RevokeReasonSecurityBreach = "security_breach"
)

// Refresh token ledger record
// Raw token never stored, only its hash
type RefreshToken struct {
	ID            uuid.UUID
	TokenHash     string
	UserID        uuid.UUID
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time // nil if token is active
	RevokedReason string
	UserAgent     string
	IP            string
}

func (t RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Valid reports whether token may be exchanged for a new pair at the moment
func (t RefreshToken) Valid(now time.Time) bool {
	return !t.Revoked() && now.Before(t.ExpiresAt)
}

type BlacklistEntry struct {
	TokenHash string
	TokenType string
	UserID    uuid.UUID
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}

// Client metadata stored along with refresh token
type ClientMeta struct {
	UserAgent string
	IP        string
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Hash token to store or lookup it in revocation stores
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
