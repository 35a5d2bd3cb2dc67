// Package auth: password hashing utilities.
//
// Passwords are stored as bcrypt hashes. bcrypt salts every hash and embeds
// the salt and cost in its output, so the stored string is all that is
// needed to verify a password later:
//
//	$2a$10$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (10 rounds → 2^10 iterations)
//	 version
package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/collar-auth/internal/apperror"
)

// DefaultCost is the bcrypt work factor used in production.
//
// Cost 10 keeps a single hash in the tens of milliseconds on server
// hardware.
const DefaultCost = 10

// maxPasswordBytes is bcrypt's input limit. Longer inputs are truncated
// silently by the algorithm, so we refuse them instead.
const maxPasswordBytes = 72

// PasswordService provides bcrypt hashing and verification.
//
// The cost is a field so tests can inject bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the given cost, clamped
// to bcrypt's allowed range. A cost of 0 selects DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	switch {
	case cost == 0:
		cost = DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with bcrypt's minimum
// cost. Use this in tests in other packages.
//
// Do NOT use in production: cost 4 is far too weak.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{cost: bcrypt.MinCost}
}

// Cost returns the configured work factor.
func (p *PasswordService) Cost() int {
	return p.cost
}

// Hash hashes the given plaintext password with bcrypt. Two calls with the
// same password return different strings because each hash gets a fresh salt.
//
// Returns a validation error if the plaintext is longer than 72 bytes.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Matches reports whether plaintext matches the stored hash.
//
// A blank hash never matches: accounts created through SMS login have no
// password until one is set. A malformed hash is treated as a mismatch too,
// so callers only ever branch on a bool. bcrypt compares in constant time.
func (p *PasswordService) Matches(plaintext, hash string) bool {
	if strings.TrimSpace(hash) == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
