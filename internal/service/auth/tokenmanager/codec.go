package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

// Token purposes, each codec accepts tokens of its own purpose only
const (
	PurposeAccess  = "access"
	PurposeRefresh = "refresh"
	PurposeVerify  = "verify_email"
)

type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
	Purpose string `json:"typ"`

	// User token version at issue time
	Version int `json:"ver,omitempty"`
}

func (c Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

func subject(userID uuid.UUID) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: userID.String()}
}

// Codec issues and verifies JWT of one purpose with one key and algorithm
type Codec struct {
	key     []byte
	method  jwt.SigningMethod
	ttl     time.Duration
	purpose string

	now func() time.Time
}

// Only HMAC algorithms supported: secret is used as a key as is
func NewCodec(secret string, alg string, ttl time.Duration, purpose string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	return &Codec{
		key:     []byte(secret),
		method:  method,
		ttl:     ttl,
		purpose: purpose,
		now:     time.Now,
	}, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs claims setting iat, exp, jti and purpose
func (c *Codec) Issue(claims Claims) (models.IssuedToken, Claims, error) {
	now := c.now().Truncate(time.Second)
	expiresAt := now.Add(c.ttl)

	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.Purpose = c.purpose
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return models.IssuedToken{}, claims, fmt.Errorf("error while signing %s token. Err: %w", c.purpose, err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, claims, nil
}

// Verify checks signature with pinned algorithm, expiration and purpose
// Returns apperrors.ErrTokenExpired or apperrors.ErrTokenInvalid
func (c *Codec) Verify(token string) (Claims, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(*jwt.Token) (any, error) {
			return c.key, nil
		},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	switch {
	case err == nil && claims.Purpose != c.purpose:
		return claims, fmt.Errorf("%w: token purpose is %q", apperrors.ErrTokenInvalid, claims.Purpose)
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, fmt.Errorf("%w: %s", apperrors.ErrTokenExpired, err.Error())
	default:
		return claims, fmt.Errorf("%w: %s", apperrors.ErrTokenInvalid, err.Error())
	}
}

// DecodeUnsafe returns claims without checking signature or expiration
// Must never be used to authorize anything
func (c *Codec) DecodeUnsafe(token string) (Claims, bool) {
	var claims Claims

	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		return claims, false
	}

	return claims, true
}
