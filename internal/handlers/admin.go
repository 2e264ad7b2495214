package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/models"
)

func userIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func handleRevokeSessions(s authService, errs errorRenderer) http.Handler {
	type response struct {
		Revoked int64 `json:"revoked"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		revoked, err := s.RevokeSessions(r.Context(), userID, models.RevokeReasonAdmin)
		if err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSON(w, response{Revoked: revoked})
	})
}

func handleDisableUser(s authService, errs errorRenderer) http.Handler {
	type response struct {
		User userResponse `json:"user"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		user, err := s.DisableUser(r.Context(), userID)
		if err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSON(w, response{User: newUserResponse(user)})
	})
}
