package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/policy"
	"github.com/nkiryanov/authcore/internal/service/auth"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	table *policy.Table,
	l logger.Logger,
	env string,
) http.Handler {
	am := middleware.NewAuth(authService, l)
	errs := errorRenderer{logger: l, debug: env == logger.EnvDevelopment}

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(authService, errs))
	apiauth.Handle("POST /login", handleLogin(authService, errs))
	apiauth.Handle("POST /refresh", handleRefresh(authService, errs))
	apiauth.Handle("POST /logout", handleLogout(authService, errs))
	apiauth.Handle("POST /verify-email", handleVerifyEmail(authService, errs))
	apiauth.Handle("POST /change-password", chain(handleChangePassword(authService, errs), am.Required))
	apiauth.Handle("GET /me", chain(handleUserMe(), am.Required, middleware.RequirePermission(table, policy.PermProfileRead)))
	apiauth.Handle("GET /session", chain(handleSession(), am.Optional))

	apiadmin := http.NewServeMux()

	apiadmin.Handle("POST /users/{id}/revoke-sessions", chain(
		handleRevokeSessions(authService, errs),
		am.Required,
		middleware.RequirePermission(table, policy.PermSessionsRevoke),
	))
	apiadmin.Handle("POST /users/{id}/disable", chain(
		handleDisableUser(authService, errs),
		am.Required,
		middleware.RestrictTo(models.RoleAdmin),
	))

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", apiauth))
	root.Handle("/admin/", http.StripPrefix("/admin", apiadmin))
	root.Handle("GET /healthz", handleHealth())

	handler := chain(root,
		middleware.LoggerMiddleware(l),
	)

	return handler
}

type authService interface {
	// Register user and issue first token pair
	// Has to return apperrors.ErrUserAlreadyExists if email already taken
	Register(ctx context.Context, params auth.RegisterParams, meta models.ClientMeta) (auth.AuthResult, error)

	// Activate user with email verification token
	VerifyEmail(ctx context.Context, token string) (models.User, error)

	// Login user with email and password
	// Has to return apperrors.ErrInvalidCredentials both for unknown email and wrong password
	Login(ctx context.Context, email string, password string, meta models.ClientMeta) (auth.AuthResult, error)

	// Revoke tokens of the session. Any of them may be empty or invalid
	Logout(ctx context.Context, access string, refresh string) error

	// Exchange refresh token for a new pair
	// Has to return apperrors.ErrTokenReuseDetected if token was already used
	RefreshPair(ctx context.Context, refresh string, meta models.ClientMeta) (models.TokenPair, error)

	// Change password of authenticated user, every other session is revoked
	ChangePassword(ctx context.Context, session models.Session, current string, next string, meta models.ClientMeta) (models.TokenPair, error)

	RevokeSessions(ctx context.Context, userID uuid.UUID, reason string) (int64, error)
	DisableUser(ctx context.Context, userID uuid.UUID) (models.User, error)

	// Authenticate access token and return session it belongs to
	Authenticate(ctx context.Context, access string) (models.Session, error)
}
