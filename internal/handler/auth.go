package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/collar-auth/internal/apperror"
	"github.com/sakif/collar-auth/internal/auth"
	"github.com/sakif/collar-auth/internal/service"
)

// AuthHandler exposes the phone authentication flows over JSON.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSendCode         → issue an SMS challenge
//   - HandleSMSLogin         → redeem a challenge for a token
//   - HandlePasswordLogin    → exchange phone + password for a token
//   - HandlePasswordRegister → create an identity with a password
//   - HandleSMSRegister      → create an identity after proving the phone
//   - HandleChangePassword   → replace the caller's password (Bearer)
//   - HandleSetPassword      → sandbox-only password provisioning
//   - HandleMe               → who does this token belong to (Bearer)
//
// Each handler does the same three things: decode + validate the body,
// call exactly one service method, translate the result. No business
// rules live here.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   svc,
		logger: logger,
	}
}

// TokenResponse is returned by every flow that ends in a session.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// SendCodeResponse tells the client which challenge to answer.
type SendCodeResponse struct {
	ChallengeID string `json:"challengeId"`
	TTLSeconds  int64  `json:"ttlSeconds"`
}

// MeResponse identifies the bearer of a token.
type MeResponse struct {
	UserID int64 `json:"userId"`
}

// HandleSendCode issues an SMS challenge.
//
// HTTP: POST /auth/sms/send
func (h *AuthHandler) HandleSendCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.auth.SendSMSCode(r.Context(), req.Phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SendCodeResponse{
		ChallengeID: res.ChallengeID,
		TTLSeconds:  res.TTLSeconds,
	})
}

// HandleSMSLogin redeems a challenge and returns a token.
//
// HTTP: POST /auth/login/sms
func (h *AuthHandler) HandleSMSLogin(w http.ResponseWriter, r *http.Request) {
	var req SMSLoginRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.auth.LoginWithSMS(r.Context(), req.ChallengeID, req.Phone, req.Code)
	h.respondToken(w, r, res, err)
}

// HandlePasswordLogin checks a password and returns a token.
//
// HTTP: POST /auth/login/password
func (h *AuthHandler) HandlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.auth.LoginWithPassword(r.Context(), req.Phone, req.Password)
	h.respondToken(w, r, res, err)
}

// HandlePasswordRegister creates an identity with a password.
//
// HTTP: POST /auth/register/password
func (h *AuthHandler) HandlePasswordRegister(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.auth.RegisterWithPassword(r.Context(), req.Phone, req.Password)
	h.respondToken(w, r, res, err)
}

// HandleSMSRegister creates an identity after redeeming the phone's latest
// challenge.
//
// HTTP: POST /auth/register/sms
func (h *AuthHandler) HandleSMSRegister(w http.ResponseWriter, r *http.Request) {
	var req SMSRegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.auth.RegisterWithSMS(r.Context(), req.Phone, req.Code, req.Password)
	h.respondToken(w, r, res, err)
}

// HandleChangePassword replaces the caller's password.
//
// HTTP: POST /auth/password/change
// Auth: Required (RequireAuth middleware sets userID in context)
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req ChangePasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.auth.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSetPassword provisions a password for a phone without proof of
// ownership. Only mounted in sandbox deployments.
//
// HTTP: POST /auth/password/set
func (h *AuthHandler) HandleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.auth.SetPassword(r.Context(), req.Phone, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the user id carried by the caller's token.
//
// HTTP: GET /me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{UserID: userID})
}

// HandleHealth reports liveness.
//
// HTTP: GET /healthz
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) respondToken(w http.ResponseWriter, r *http.Request, res *service.AuthResult, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: res.Token})
}

// fail writes err and logs it when it is not a known client-facing kind.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, known := kindOf(err); !known {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, err)
}

// callerID reads the authenticated user id placed in the context by
// auth.RequireAuth.
func callerID(r *http.Request) (int64, error) {
	raw, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Only reachable if a protected route was mounted without RequireAuth.
		return 0, apperror.Unauthorized("valid authentication required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Unauthorized("token subject is not a user id")
	}
	return id, nil
}
