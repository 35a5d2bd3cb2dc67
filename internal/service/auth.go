// Package service: authentication business logic.
//
// AuthService is the business logic layer for authentication. It sits between
// the HTTP handlers and the stores:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository
//	                                                   → ChallengeRepository
//	                   ↘ PasswordService (bcrypt), TokenService (JWT), sms.Sender
//
// KEY RESPONSIBILITIES:
//   - Sequence challenge verification, identity lookup/creation, password
//     checks and token issuance for every login and registration flow
//   - Gate the SMS channel: outside sandbox deployments SMS flows fail with
//     ErrChannelUnavailable before any store is touched
//   - Stay free of HTTP concerns so the flows are testable with plain stores
//
// STRICT VS LENIENT CREATION:
// Registration is strict: a phone that already has an identity is a Conflict
// the caller must see. SMS login and SetPassword are lenient: if a concurrent
// request created the identity first, we simply use that identity.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/collar-auth/internal/apperror"
	"github.com/sakif/collar-auth/internal/auth"
	"github.com/sakif/collar-auth/internal/model"
	"github.com/sakif/collar-auth/internal/repository"
	"github.com/sakif/collar-auth/internal/sms"
)

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users       repository.UserRepository      → identities by phone and id
//   - challenges  repository.ChallengeRepository → one-time SMS codes
//   - passwords   *auth.PasswordService          → bcrypt hashing
//   - tokens      *auth.TokenService             → JWT issuance
//   - sender      sms.Sender                     → code delivery
//   - sandbox     bool                           → SMS channel and SetPassword enabled
//   - logger      *slog.Logger                   → structured logging
type AuthService struct {
	users      repository.UserRepository
	challenges repository.ChallengeRepository
	passwords  *auth.PasswordService
	tokens     *auth.TokenService
	sender     sms.Sender
	sandbox    bool
	logger     *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
// Call this in server.go when wiring the dependency graph.
func NewAuthService(
	users repository.UserRepository,
	challenges repository.ChallengeRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	sender sms.Sender,
	sandbox bool,
	logger *slog.Logger,
) *AuthService {
	if sender == nil {
		sender = sms.Disabled{}
	}
	return &AuthService{
		users:      users,
		challenges: challenges,
		passwords:  passwords,
		tokens:     tokens,
		sender:     sender,
		sandbox:    sandbox,
		logger:     logger,
	}
}

// AuthResult is returned by every flow that ends in a session.
// It bundles the user record and the issued JWT so the handler can respond
// in one step.
type AuthResult struct {
	User  model.User
	Token string
}

// SendCodeResult tells the client which challenge to answer and for how long.
// The code itself never leaves the service.
type SendCodeResult struct {
	ChallengeID string
	TTLSeconds  int64
}

// SMSEnabled reports whether SMS flows are served.
func (s *AuthService) SMSEnabled() bool {
	return s.sandbox
}

func (s *AuthService) requireSMS() error {
	if !s.sandbox {
		return apperror.ChannelUnavailable(sms.Channel)
	}
	return nil
}

// SendSMSCode issues a challenge for phone and hands the code to the sender.
func (s *AuthService) SendSMSCode(ctx context.Context, phone string) (SendCodeResult, error) {
	if err := s.requireSMS(); err != nil {
		return SendCodeResult{}, err
	}

	res, err := s.challenges.Send(ctx, phone)
	if err != nil {
		return SendCodeResult{}, fmt.Errorf("service/auth: issuing challenge: %w", err)
	}

	if err := s.sender.Send(ctx, phone, res.Code); err != nil {
		return SendCodeResult{}, fmt.Errorf("service/auth: delivering code: %w", err)
	}

	s.logger.Debug("sms challenge issued", slog.String("challengeID", res.ChallengeID))

	return SendCodeResult{
		ChallengeID: res.ChallengeID,
		TTLSeconds:  int64(res.TTL.Seconds()),
	}, nil
}

// LoginWithSMS redeems a challenge and signs the phone in, creating its
// identity on first login.
//
// challengeID may be empty, in which case the phone's most recent challenge
// is used.
func (s *AuthService) LoginWithSMS(ctx context.Context, challengeID, phone, code string) (*AuthResult, error) {
	if err := s.requireSMS(); err != nil {
		return nil, err
	}

	if err := s.verifyChallenge(ctx, challengeID, phone, code); err != nil {
		return nil, err
	}

	user, err := s.getOrCreate(ctx, phone)
	if err != nil {
		return nil, err
	}

	return s.issue(user, "sms")
}

// LoginWithPassword checks phone and password and issues a token.
//
// An identity without a password (created through SMS) can never log in
// this way: Matches returns false for a blank hash.
func (s *AuthService) LoginWithPassword(ctx context.Context, phone, password string) (*AuthResult, error) {
	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("service/auth: password login: %w", err)
	}

	if !s.passwords.Matches(password, user.PasswordHash) {
		return nil, apperror.Unauthorized("invalid phone or password")
	}

	return s.issue(user, "password")
}

// RegisterWithPassword creates an identity with a password. A phone that is
// already registered yields ErrConflict.
func (s *AuthService) RegisterWithPassword(ctx context.Context, phone, password string) (*AuthResult, error) {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user, err := s.users.CreateIfAbsent(ctx, phone, hash)
	if err != nil {
		return nil, fmt.Errorf("service/auth: registering: %w", err)
	}

	s.logger.Info("user registered", slog.Int64("userID", user.ID), slog.String("method", "password"))
	return s.issue(user, "password")
}

// RegisterWithSMS proves ownership of phone with its latest challenge, then
// creates an identity with a password. A phone that is already registered
// yields ErrConflict, after the challenge has been consumed.
func (s *AuthService) RegisterWithSMS(ctx context.Context, phone, code, password string) (*AuthResult, error) {
	if err := s.requireSMS(); err != nil {
		return nil, err
	}

	if err := s.verifyChallenge(ctx, "", phone, code); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user, err := s.users.CreateIfAbsent(ctx, phone, hash)
	if err != nil {
		return nil, fmt.Errorf("service/auth: registering: %w", err)
	}

	s.logger.Info("user registered", slog.Int64("userID", user.ID), slog.String("method", "sms"))
	return s.issue(user, "sms")
}

// ChangePassword replaces the password of userID after checking the old one.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/auth: changing password: %w", err)
	}

	if !s.passwords.Matches(oldPassword, user.PasswordHash) {
		return apperror.Unauthorized("current password is incorrect")
	}

	return s.storePassword(ctx, user, newPassword)
}

// SetPassword gives phone a password without any proof of ownership,
// creating the identity if needed. Sandbox only.
func (s *AuthService) SetPassword(ctx context.Context, phone, password string) error {
	if !s.sandbox {
		return apperror.ChannelUnavailable("set-password")
	}

	user, err := s.getOrCreate(ctx, phone)
	if err != nil {
		return err
	}

	return s.storePassword(ctx, user, password)
}

// verifyChallenge redeems challengeID, or the phone's latest challenge when
// challengeID is empty.
func (s *AuthService) verifyChallenge(ctx context.Context, challengeID, phone, code string) error {
	var err error
	if challengeID == "" {
		err = s.challenges.VerifyLatest(ctx, phone, code)
	} else {
		err = s.challenges.Verify(ctx, challengeID, phone, code)
	}
	if err != nil {
		return fmt.Errorf("service/auth: verifying challenge: %w", err)
	}
	return nil
}

// getOrCreate returns the identity of phone, creating it without a password
// if absent. Losing a creation race is not an error.
func (s *AuthService) getOrCreate(ctx context.Context, phone string) (model.User, error) {
	user, err := s.users.FindByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return model.User{}, fmt.Errorf("service/auth: looking up phone: %w", err)
	}

	user, err = s.users.CreateIfAbsent(ctx, phone, "")
	switch {
	case err == nil:
		s.logger.Info("user registered", slog.Int64("userID", user.ID), slog.String("method", "sms"))
		return user, nil
	case errors.Is(err, apperror.ErrConflict):
		// Someone else created it between our lookup and our insert.
		user, err = s.users.FindByPhone(ctx, phone)
		if err != nil {
			return model.User{}, fmt.Errorf("service/auth: re-reading phone after conflict: %w", err)
		}
		return user, nil
	default:
		return model.User{}, fmt.Errorf("service/auth: creating identity: %w", err)
	}
}

func (s *AuthService) storePassword(ctx context.Context, user model.User, password string) error {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user.PasswordHash = hash
	if _, err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrInvalidArgument) {
			s.logger.Error("user store rejected save", slog.Int64("userID", user.ID), slog.String("error", err.Error()))
		}
		return fmt.Errorf("service/auth: saving password: %w", err)
	}

	s.logger.Info("password updated", slog.Int64("userID", user.ID))
	return nil
}

func (s *AuthService) issue(user model.User, method string) (*AuthResult, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidArgument) {
			s.logger.Error("token issuance rejected user", slog.Int64("userID", user.ID), slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user authenticated", slog.Int64("userID", user.ID), slog.String("method", method))
	return &AuthResult{User: user, Token: token}, nil
}
