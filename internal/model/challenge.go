package model

import "time"

// Challenge is a pending SMS verification. It lives only inside the
// challenge store and is removed once it is verified, expires, or runs out
// of attempts.
type Challenge struct {
	ID        string
	Phone     string
	Code      string
	ExpiresAt time.Time
	Attempts  int
}

// Expired reports whether the challenge is past its deadline at now.
// A challenge is still valid at exactly ExpiresAt.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// SendResult is what the challenge store hands back after issuing a code.
//
// Code is only passed on to the SMS sender; it must never be written into an
// API response.
type SendResult struct {
	ChallengeID string
	Code        string
	TTL         time.Duration
}
