// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a phone-number identity.
//
// ID and Phone are fixed at creation; the stores refuse any update that
// changes them. An empty PasswordHash means the account was created through
// SMS login and has no password yet, so password login is disabled for it.
type User struct {
	ID           int64     `json:"id"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasPassword reports whether password login is enabled for the user.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}
