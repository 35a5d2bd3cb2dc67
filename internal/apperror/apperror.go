// Package apperror defines the domain error taxonomy shared by every layer.
//
// Each failure kind is a sentinel. Constructors wrap the sentinel in an
// *AppError carrying a human-readable message, so callers can match the kind
// with errors.Is and still show something useful to the client.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")

	// Challenge lifecycle failures.
	ErrChallengeNotFound     = errors.New("challenge not found")
	ErrChallengeExpired      = errors.New("challenge expired")
	ErrChallengeCodeMismatch = errors.New("challenge code mismatch")
	ErrTooManyAttempts       = errors.New("too many attempts")

	// ErrChannelUnavailable means the SMS channel is switched off for this deployment.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrInvalidArgument marks a caller contract violation, not a business condition.
	ErrInvalidArgument = errors.New("invalid argument")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Unauthorized returns an AppError for a credential mismatch.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}

func ChallengeNotFound() *AppError {
	return &AppError{
		Err:     ErrChallengeNotFound,
		Message: "verification code not found or already used",
	}
}

func ChallengeExpired() *AppError {
	return &AppError{
		Err:     ErrChallengeExpired,
		Message: "verification code expired",
	}
}

func ChallengeCodeMismatch() *AppError {
	return &AppError{
		Err:     ErrChallengeCodeMismatch,
		Message: "verification code is incorrect",
	}
}

func TooManyAttempts() *AppError {
	return &AppError{
		Err:     ErrTooManyAttempts,
		Message: "too many verification attempts, request a new code",
	}
}

func ChannelUnavailable(channel string) *AppError {
	return &AppError{
		Err:     ErrChannelUnavailable,
		Message: fmt.Sprintf("%s channel is not available in this deployment", channel),
	}
}

// InvalidArgument reports a programming error in how the caller used an API.
// It is never expected on a healthy request path.
func InvalidArgument(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidArgument,
		Message: message,
	}
}
