package models

import "time"

// Authenticated session attached to request context by session guard
type Session struct {
	User User

	// Access token the session was authenticated with and its claims
	AccessToken string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}
