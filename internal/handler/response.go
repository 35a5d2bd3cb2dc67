package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "challenge_expired", "message": "verification code expired"}
//
// "error" is a stable machine-readable kind; "message" is for humans and may
// change between releases.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/collar-auth/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error kind (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written; once Encode
// writes, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorKind maps one sentinel to its HTTP status and wire name.
type errorKind struct {
	target error
	status int
	name   string
}

// errorKinds is checked in order; the first sentinel found in the chain wins.
//
// ErrInvalidArgument is not listed; it maps to 500 with every other
// unexpected failure.
var errorKinds = []errorKind{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrChallengeNotFound, http.StatusBadRequest, "challenge_not_found"},
	{apperror.ErrChallengeExpired, http.StatusBadRequest, "challenge_expired"},
	{apperror.ErrChallengeCodeMismatch, http.StatusBadRequest, "challenge_code_mismatch"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{apperror.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
	{apperror.ErrChannelUnavailable, http.StatusNotImplemented, "channel_unavailable"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// This is where domain errors (from the service layer) get translated to HTTP.
// The service layer never knows about status codes.
//
// errors.Is() UNWRAPPING:
// The service wraps store errors with context:
//
//	fmt.Errorf("service/auth: verifying challenge: %w", apperror.ChallengeExpired())
//
// errors.Is walks outer error → AppError → ErrChallengeExpired, so the
// mapping works however many layers added context. errors.As pulls the
// AppError out for its client-safe message.
func writeError(w http.ResponseWriter, err error) {
	if k, ok := kindOf(err); ok {
		message := k.target.Error()
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}

		writeJSON(w, k.status, ErrorResponse{Error: k.name, Message: message})
		return
	}

	// Unknown error: return a generic 500.
	// NEVER expose internal error details to the client: the raw message might
	// contain SQL, file paths or other internals.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// kindOf finds the first known error kind in err's chain.
func kindOf(err error) (errorKind, bool) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k, true
		}
	}
	return errorKind{}, false
}
