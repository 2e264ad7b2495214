package handlers

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
)

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
	}
}

type tokensResponse struct {
	TokenType        string    `json:"tokenType"`
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newTokensResponse(pair models.TokenPair) tokensResponse {
	return tokensResponse{
		TokenType:        "Bearer",
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}

// Client metadata stored along with refresh token
func clientMeta(r *http.Request) models.ClientMeta {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return models.ClientMeta{UserAgent: r.UserAgent(), IP: ip}
}

// Renders service errors
// Internal errors are logged with full text, client gets generic message
type errorRenderer struct {
	logger logger.Logger
	debug  bool
}

func (e errorRenderer) render(w http.ResponseWriter, r *http.Request, err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindInternal:
		e.logger.Error("request failed", "uri", r.RequestURI, "error", err)
	case apperrors.KindUnavailable:
		e.logger.Warn("dependency unavailable", "uri", r.RequestURI, "error", err)
	}
	render.AppError(w, err, e.debug)
}
