package handlers

import (
	"net/http"

	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
)

func handleUserMe() http.Handler {
	type response struct {
		User userResponse `json:"user"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.User(r.Context())
		render.JSON(w, response{User: newUserResponse(user)})
	})
}

// Reports whether request is authenticated, never fails
func handleSession() http.Handler {
	type response struct {
		Authenticated bool          `json:"authenticated"`
		User          *userResponse `json:"user,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.User(r.Context())
		if !ok {
			render.JSON(w, response{Authenticated: false})
			return
		}

		u := newUserResponse(user)
		render.JSON(w, response{Authenticated: true, User: &u})
	})
}

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, map[string]string{"status": "ok"})
	})
}
