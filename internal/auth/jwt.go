// Package auth provides the credential primitives behind the login flows:
// bcrypt password hashing, signed access tokens, and the HTTP middleware
// that checks those tokens on protected routes.
//
// ACCESS TOKENS:
// An access token is an HS256 JWT. It is self-contained: the middleware
// verifies it with the shared key alone, no store lookup:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:  {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"1000","phone":"13800000001","iat":...,"exp":...,"iss":...,"jti":...}
//	- Signature: HMAC-SHA256(header+"."+payload, key)
//
// Tokens are not revocable; they simply expire.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sakif/collar-auth/internal/apperror"
	"github.com/sakif/collar-auth/internal/model"
)

// MinKeyBytes is the HS256 key size. Shorter secrets are stretched with
// SHA-256 by DeriveKey.
const MinKeyBytes = 32

// DeriveKey turns a configured secret into HMAC key material.
//
// Secrets of at least MinKeyBytes bytes are used as-is. Shorter ones are
// replaced by their SHA-256 digest, which is exactly MinKeyBytes long. The
// function is pure: the same secret always yields the same key.
func DeriveKey(secret string) []byte {
	raw := []byte(secret)
	if len(raw) < MinKeyBytes {
		sum := sha256.Sum256(raw)
		return sum[:]
	}
	return raw
}

// TokenService handles JWT creation and validation.
//
// The key is derived once at construction and reused for every signature.
type TokenService struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Claims is the JWT payload. Subject carries the decimal user id.
type Claims struct {
	Phone string `json:"phone"`
	jwt.RegisteredClaims
}

// UserID parses the subject back into a numeric user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("auth: subject %q is not a user id", c.Subject)
	}
	return id, nil
}

// NewTokenService creates a TokenService from the configured secret.
//
// The secret must not be empty; its strength is policed by the config
// layer, which refuses short secrets outside sandbox deployments.
func NewTokenService(secret string, ttl time.Duration, issuer string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("auth: JWT secret must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: token TTL must be positive, got %s", ttl)
	}
	return &TokenService{
		key:    DeriveKey(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// TTL returns the lifetime given to each issued token.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue creates and signs a new access token for user.
func (s *TokenService) Issue(user model.User) (string, error) {
	if user.ID <= 0 {
		return "", apperror.InvalidArgument("auth: cannot issue a token for a user without an id")
	}

	now := s.now()
	c := Claims{
		Phone: user.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid for our key
//   - Algorithm is HS256 (no "none", no algorithm confusion)
//   - Token has an expiry and is not past it
//   - Issuer matches ours
//
// Every failure unwraps to apperror.ErrUnauthorized.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.Unauthorized("auth: token expired")
		}
		return nil, fmt.Errorf("%w: auth: invalid token: %v", apperror.ErrUnauthorized, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperror.Unauthorized("auth: invalid token claims")
	}
	if _, err := c.UserID(); err != nil {
		return nil, apperror.Unauthorized(err.Error())
	}

	return c, nil
}
