package tokenmanager

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
)

func newTestCodec(t *testing.T, alg string, ttl time.Duration, purpose string) *Codec {
	t.Helper()

	c, err := NewCodec("test-secret-key", alg, ttl, purpose)
	require.NoError(t, err, "codec should be created without errors")
	return c
}

func Test_NewCodec(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		alg     string
		ttl     time.Duration
		wantErr bool
	}{
		{"HS256", "secret", "HS256", time.Minute, false},
		{"HS384", "secret", "HS384", time.Minute, false},
		{"HS512", "secret", "HS512", time.Minute, false},
		{"unknown alg", "secret", "XX999", time.Minute, true},
		{"asymmetric alg", "secret", "RS256", time.Minute, true},
		{"none alg", "secret", "none", time.Minute, true},
		{"empty secret", "", "HS256", time.Minute, true},
		{"zero ttl", "secret", "HS256", 0, true},
		{"negative ttl", "secret", "HS256", -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(tt.secret, tt.alg, tt.ttl, PurposeAccess)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func Test_Codec(t *testing.T) {
	userID := uuid.New()

	t.Run("round trip", func(t *testing.T) {
		c := newTestCodec(t, "HS256", 15*time.Minute, PurposeAccess)

		token, issued, err := c.Issue(Claims{
			RegisteredClaims: subject(userID),
			Email:            "user@example.com",
			Role:             "admin",
		})
		require.NoError(t, err)

		claims, err := c.Verify(token.Value)
		require.NoError(t, err)

		gotID, err := claims.UserID()
		require.NoError(t, err)
		assert.Equal(t, userID, gotID)
		assert.Equal(t, "user@example.com", claims.Email)
		assert.Equal(t, "admin", claims.Role)
		assert.Equal(t, PurposeAccess, claims.Purpose)
		assert.Equal(t, issued.ID, claims.ID, "jti should be preserved")
		assert.NotEmpty(t, claims.ID)
		assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second)
		assert.WithinDuration(t, token.ExpiresAt, claims.ExpiresAt.Time, 0, "expiration should match issued token")
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), token.ExpiresAt, time.Second)
	})

	t.Run("tokens differ by jti", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)

		first, _, err := c.Issue(Claims{RegisteredClaims: subject(userID)})
		require.NoError(t, err)
		second, _, err := c.Issue(Claims{RegisteredClaims: subject(userID)})
		require.NoError(t, err)

		assert.NotEqual(t, first.Value, second.Value)
	})

	t.Run("expired token", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)
		token, _, err := c.Issue(Claims{RegisteredClaims: subject(userID)})
		require.NoError(t, err)

		c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err = c.Verify(token.Value)

		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	})

	t.Run("algorithm is pinned", func(t *testing.T) {
		issuer := newTestCodec(t, "HS512", time.Minute, PurposeAccess)
		verifier := newTestCodec(t, "HS256", time.Minute, PurposeAccess)
		token, _, err := issuer.Issue(Claims{RegisteredClaims: subject(userID)})
		require.NoError(t, err)

		_, err = verifier.Verify(token.Value)

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "token signed with same key but other algorithm must fail")
	})

	t.Run("not signed token", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID.String(),
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			},
			Purpose: PurposeAccess,
		})
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = c.Verify(unsigned)

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "valid token with empty alg must fail")
	})

	t.Run("token without expiration", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: subject(userID),
			Purpose:          PurposeAccess,
		})
		signed, err := token.SignedString([]byte("test-secret-key"))
		require.NoError(t, err)

		_, err = c.Verify(signed)

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("other secret", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)
		other, err := NewCodec("other-secret-key", "HS256", time.Minute, PurposeAccess)
		require.NoError(t, err)
		token, _, err := other.Issue(Claims{RegisteredClaims: subject(userID)})
		require.NoError(t, err)

		_, err = c.Verify(token.Value)

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("other purpose", func(t *testing.T) {
		access := newTestCodec(t, "HS256", time.Minute, PurposeAccess)
		verify := newTestCodec(t, "HS256", time.Minute, PurposeVerify)
		token, _, err := verify.Issue(Claims{RegisteredClaims: subject(userID)})
		require.NoError(t, err)

		_, err = access.Verify(token.Value)

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "verification token must not be accepted as access token")
	})

	t.Run("not a token", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)

		_, err := c.Verify("invalid token")

		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("decode unsafe reads expired token", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)
		token, _, err := c.Issue(Claims{RegisteredClaims: subject(userID)})
		require.NoError(t, err)
		c.now = func() time.Time { return time.Now().Add(time.Hour) }

		claims, ok := c.DecodeUnsafe(token.Value)

		require.True(t, ok)
		assert.Equal(t, userID.String(), claims.Subject)
		assert.WithinDuration(t, token.ExpiresAt, claims.ExpiresAt.Time, 0)
	})

	t.Run("decode unsafe garbage", func(t *testing.T) {
		c := newTestCodec(t, "HS256", time.Minute, PurposeAccess)

		_, ok := c.DecodeUnsafe("not.a.token")

		require.False(t, ok)
	})
}
