package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
	"github.com/nkiryanov/authcore/internal/models"
)

type authService interface {
	// Authenticate access token and return session it belongs to
	Authenticate(ctx context.Context, access string) (models.Session, error)
}

type permissionChecker interface {
	Allows(role string, perm string) bool
}

type errorLogger interface {
	Error(msg string, args ...any)
}

type Auth struct {
	as     authService
	logger errorLogger
}

func NewAuth(as authService, l errorLogger) *Auth {
	return &Auth{as: as, logger: l}
}

// Required rejects request if it has no valid bearer access token
func (a *Auth) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := BearerToken(r)

		session, err := a.as.Authenticate(r.Context(), token)
		if err != nil {
			if kind := apperrors.KindOf(err); kind == apperrors.KindInternal || kind == apperrors.KindUnavailable {
				a.logger.Error("authentication failed", "error", err)
			}
			render.AppError(w, err, false)
			return
		}

		ctx := userctx.New(r.Context(), session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches session if request is authenticated
// Request without valid token passes through as anonymous
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		session, err := a.as.Authenticate(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := userctx.New(r.Context(), session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RestrictTo allows only sessions with one of the roles
// Has to be used after Required
func RestrictTo(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userctx.User(r.Context())
			if !ok {
				render.AppError(w, apperrors.ErrMissingToken, false)
				return
			}
			if !slices.Contains(roles, user.Role) {
				render.AppError(w, apperrors.ErrForbidden, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission allows only sessions whose role is granted the permission
// Has to be used after Required
func RequirePermission(table permissionChecker, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userctx.User(r.Context())
			if !ok {
				render.AppError(w, apperrors.ErrMissingToken, false)
				return
			}
			if !table.Allows(user.Role, perm) {
				render.AppError(w, apperrors.ErrForbidden, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts token from 'Authorization: Bearer <token>' header
// Scheme is case insensitive
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
