package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
	"github.com/nkiryanov/authcore/internal/service/auth"
)

func handleRegister(s authService, errs errorRenderer) http.Handler {
	type request struct {
		Username        string `json:"username" validate:"required,notblank,min=2,max=50"`
		Email           string `json:"email" validate:"required,email,max=254"`
		Password        string `json:"password" validate:"required,min=8,max=128"`
		PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
	}
	type response struct {
		User   userResponse   `json:"user"`
		Tokens tokensResponse `json:"tokens"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		params := auth.RegisterParams{Username: data.Username, Email: data.Email, Password: data.Password}
		result, err := s.Register(r.Context(), params, clientMeta(r))
		if err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSONStatus(w, response{
			User:   newUserResponse(result.User),
			Tokens: newTokensResponse(result.Tokens),
		}, http.StatusCreated)
	})
}

func handleLogin(s authService, errs errorRenderer) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type response struct {
		User   userResponse   `json:"user"`
		Tokens tokensResponse `json:"tokens"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		result, err := s.Login(r.Context(), data.Email, data.Password, clientMeta(r))
		if err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSON(w, response{
			User:   newUserResponse(result.User),
			Tokens: newTokensResponse(result.Tokens),
		})
	})
}

func handleRefresh(s authService, errs errorRenderer) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	type response struct {
		Tokens tokensResponse `json:"tokens"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := s.RefreshPair(r.Context(), data.RefreshToken, clientMeta(r))
		if err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSON(w, response{Tokens: newTokensResponse(pair)})
	})
}

// Logout never fails on bad tokens or body, only on store errors
// Malformed body is treated as missing refresh token, bearer token is still revoked
func handleLogout(s authService, errs errorRenderer) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data request
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			data = request{}
		}

		access, _ := middleware.BearerToken(r)
		if err := s.Logout(r.Context(), access, data.RefreshToken); err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSON(w, response{Message: "Logged out"})
	})
}

func handleVerifyEmail(s authService, errs errorRenderer) http.Handler {
	type request struct {
		Token string `json:"token" validate:"required"`
	}
	type response struct {
		User userResponse `json:"user"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := s.VerifyEmail(r.Context(), data.Token)
		if err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSON(w, response{User: newUserResponse(user)})
	})
}

func handleChangePassword(s authService, errs errorRenderer) http.Handler {
	type request struct {
		CurrentPassword    string `json:"currentPassword" validate:"required"`
		NewPassword        string `json:"newPassword" validate:"required,min=8,max=128,nefield=CurrentPassword"`
		NewPasswordConfirm string `json:"newPasswordConfirm" validate:"required,eqfield=NewPassword"`
	}
	type response struct {
		Message string         `json:"message"`
		Tokens  tokensResponse `json:"tokens"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, _ := userctx.FromContext(r.Context())
		pair, err := s.ChangePassword(r.Context(), session, data.CurrentPassword, data.NewPassword, clientMeta(r))
		if err != nil {
			errs.render(w, r, err)
			return
		}

		render.JSON(w, response{
			Message: "Password changed, other sessions are signed out",
			Tokens:  newTokensResponse(pair),
		})
	})
}
