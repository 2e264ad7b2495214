package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// Kind of application error. Handlers dispatch on it, not on concrete errors
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTokenReuse
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTokenReuse:
		return "token_reuse_detected"
	case KindUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}

// HTTP status code the kind is rendered with
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized, KindTokenReuse:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged application error
// Message is safe to show to the client
type Error struct {
	Kind    Kind
	Message string
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Status() int {
	return e.Kind.Status()
}

var (
	ErrUserAlreadyExists  = New(KindConflict, "user already exists")
	ErrUserNotFound       = New(KindNotFound, "user not found")
	ErrInvalidCredentials = New(KindUnauthorized, "invalid email or password")
	ErrWrongPassword      = New(KindValidation, "current password is incorrect")

	ErrRefreshTokenNotFound = New(KindUnauthorized, "refresh token not found")
	ErrRefreshTokenRevoked  = New(KindUnauthorized, "refresh token is revoked")
	ErrRefreshTokenExpired  = New(KindUnauthorized, "refresh token is expired")
	ErrRefreshTokenExists   = New(KindConflict, "refresh token already exists")
	ErrTokenReuseDetected   = New(KindTokenReuse, "refresh token reuse detected")

	// Session guard outcomes
	ErrMissingToken    = New(KindUnauthorized, "missing token")
	ErrTokenRevoked    = New(KindUnauthorized, "revoked")
	ErrTokenExpired    = New(KindUnauthorized, "expired")
	ErrTokenInvalid    = New(KindUnauthorized, "invalid")
	ErrNoSuchUser      = New(KindUnauthorized, "no such user")
	ErrAccountDisabled = New(KindUnauthorized, "disabled")

	ErrForbidden          = New(KindForbidden, "forbidden")
	ErrServiceUnavailable = New(KindUnavailable, "service temporarily unavailable")
)

// KindOf returns the kind of the first tagged error in the chain
// Deadline errors are reported as unavailable so callers fail closed
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var appErr *Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	case errors.As(err, &appErr):
		return appErr.Kind
	default:
		return KindInternal
	}
}

// MessageOf returns client safe message for the error
func MessageOf(err error) string {
	var appErr *Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrServiceUnavailable.Message
	case errors.As(err, &appErr):
		return appErr.Message
	default:
		return "Internal server error"
	}
}
