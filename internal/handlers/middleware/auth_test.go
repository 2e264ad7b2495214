package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/policy"
)

// Allow to use a function as auth service
type authFunc func(ctx context.Context, access string) (models.Session, error)

func (f authFunc) Authenticate(ctx context.Context, access string) (models.Session, error) {
	return f(ctx, access)
}

type errorLoggerFunc func(string, ...any)

func (f errorLoggerFunc) Error(msg string, v ...any) { f(msg, v...) }

var noopErrorLogger = errorLoggerFunc(func(string, ...any) {})

// Authenticates only "good-token" as user with role taken from "role" query param
var tokenAuth = authFunc(func(_ context.Context, access string) (models.Session, error) {
	switch access {
	case "":
		return models.Session{}, apperrors.ErrMissingToken
	case "good-token", "admin-token":
		role := models.RoleUser
		if access == "admin-token" {
			role = models.RoleAdmin
		}
		return models.Session{
			User:        models.User{Username: "test-user", Role: role},
			AccessToken: access,
		}, nil
	case "revoked-token":
		return models.Session{}, apperrors.ErrTokenRevoked
	default:
		return models.Session{}, fmt.Errorf("blacklist lookup: %w", errors.New("connection refused"))
	}
})

// Writes username from context or 'anonymous'
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	user, ok := userctx.User(r.Context())
	name := "anonymous"
	if ok {
		name = user.Username
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(name))
})

func doRequest(t *testing.T, h http.Handler, authorization string) (int, string, http.Header) {
	t.Helper()

	srv := httptest.NewServer(h)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/test", nil)
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "should make request to test server")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "should read response body")
	defer resp.Body.Close() // nolint:errcheck

	return resp.StatusCode, string(body), resp.Header
}

func TestAuthMiddleware_Required(t *testing.T) {
	t.Run("auth ok", func(t *testing.T) {
		middleware := NewAuth(tokenAuth, noopErrorLogger)

		status, body, _ := doRequest(t, middleware.Required(whoami), "Bearer good-token")

		require.Equalf(t, http.StatusOK, status, "should return status OK. Resp: %s", body)
		require.Equal(t, "test-user", body, "should return username in response")
	})

	t.Run("scheme case insensitive", func(t *testing.T) {
		middleware := NewAuth(tokenAuth, noopErrorLogger)

		status, body, _ := doRequest(t, middleware.Required(whoami), "bearer good-token")

		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "test-user", body)
	})

	t.Run("missing token", func(t *testing.T) {
		middleware := NewAuth(tokenAuth, noopErrorLogger)

		status, body, header := doRequest(t, middleware.Required(whoami), "")

		require.Equal(t, http.StatusUnauthorized, status)
		require.Equal(t, `Bearer error="invalid_token"`, header.Get("WWW-Authenticate"))
		require.JSONEq(t, `{"error": "service_error", "message": "missing token"}`, body)
	})

	t.Run("not bearer scheme", func(t *testing.T) {
		middleware := NewAuth(tokenAuth, noopErrorLogger)

		status, body, _ := doRequest(t, middleware.Required(whoami), "Basic good-token")

		require.Equal(t, http.StatusUnauthorized, status)
		require.JSONEq(t, `{"error": "service_error", "message": "missing token"}`, body)
	})

	t.Run("revoked token", func(t *testing.T) {
		middleware := NewAuth(tokenAuth, noopErrorLogger)

		status, body, _ := doRequest(t, middleware.Required(whoami), "Bearer revoked-token")

		require.Equal(t, http.StatusUnauthorized, status)
		require.JSONEq(t, `{"error": "service_error", "message": "revoked"}`, body)
	})

	t.Run("internal error logged", func(t *testing.T) {
		logged := 0
		middleware := NewAuth(tokenAuth, errorLoggerFunc(func(msg string, _ ...any) {
			logged++
			require.Equal(t, "authentication failed", msg)
		}))

		status, body, _ := doRequest(t, middleware.Required(whoami), "Bearer broken")

		require.Equal(t, http.StatusInternalServerError, status)
		require.JSONEq(t, `{"error": "service_error", "message": "Internal server error"}`, body)
		require.Equal(t, 1, logged, "internal errors should be logged")
	})
}

func TestAuthMiddleware_Optional(t *testing.T) {
	middleware := NewAuth(tokenAuth, noopErrorLogger)

	tests := []struct {
		name          string
		authorization string
		expected      string
	}{
		{"authenticated", "Bearer good-token", "test-user"},
		{"no header", "", "anonymous"},
		{"revoked token", "Bearer revoked-token", "anonymous"},
		{"store failure", "Bearer broken", "anonymous"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body, _ := doRequest(t, middleware.Optional(whoami), tc.authorization)

			require.Equal(t, http.StatusOK, status)
			require.Equal(t, tc.expected, body)
		})
	}
}

func TestAuthMiddleware_RestrictTo(t *testing.T) {
	middleware := NewAuth(tokenAuth, noopErrorLogger)
	h := middleware.Required(RestrictTo(models.RoleAdmin)(whoami))

	t.Run("admin allowed", func(t *testing.T) {
		status, _, _ := doRequest(t, h, "Bearer admin-token")

		require.Equal(t, http.StatusOK, status)
	})

	t.Run("user forbidden", func(t *testing.T) {
		status, body, _ := doRequest(t, h, "Bearer good-token")

		require.Equal(t, http.StatusForbidden, status)
		require.JSONEq(t, `{"error": "service_error", "message": "forbidden"}`, body)
	})

	t.Run("without session", func(t *testing.T) {
		status, _, _ := doRequest(t, RestrictTo(models.RoleAdmin)(whoami), "")

		require.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestAuthMiddleware_RequirePermission(t *testing.T) {
	middleware := NewAuth(tokenAuth, noopErrorLogger)
	table := policy.DefaultTable()

	t.Run("granted", func(t *testing.T) {
		h := middleware.Required(RequirePermission(table, policy.PermSessionsRevoke)(whoami))

		status, _, _ := doRequest(t, h, "Bearer admin-token")

		require.Equal(t, http.StatusOK, status)
	})

	t.Run("not granted", func(t *testing.T) {
		h := middleware.Required(RequirePermission(table, policy.PermSessionsRevoke)(whoami))

		status, _, _ := doRequest(t, h, "Bearer good-token")

		require.Equal(t, http.StatusForbidden, status)
	})

	t.Run("granted to user", func(t *testing.T) {
		h := middleware.Required(RequirePermission(table, policy.PermProfileRead)(whoami))

		status, _, _ := doRequest(t, h, "Bearer good-token")

		require.Equal(t, http.StatusOK, status)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header   string
		expected string
		ok       bool
	}{
		{"Bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"Bearer  abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", tc.header)

			token, ok := BearerToken(r)

			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.expected, token)
		})
	}
}
