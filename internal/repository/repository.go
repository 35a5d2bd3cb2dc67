// Package repository declares the storage contracts the auth service depends on.
//
// Implementations live in sub-packages (memory, sqlite). The service only
// sees these interfaces, so a shared external store can replace the
// in-process ones without touching the orchestration code.
package repository

import (
	"context"

	"github.com/sakif/collar-auth/internal/model"
)

// UserRepository holds phone identities behind two unique indices, by phone
// and by id, which must never disagree.
type UserRepository interface {
	// FindByPhone returns apperror.ErrNotFound when no user has the phone.
	FindByPhone(ctx context.Context, phone string) (model.User, error)
	// FindByID returns apperror.ErrNotFound when no user has the id.
	FindByID(ctx context.Context, id int64) (model.User, error)
	// CreateIfAbsent atomically creates a user for phone with a fresh,
	// strictly increasing id. It returns apperror.ErrConflict if the phone is
	// already registered, including when a concurrent call won the race.
	CreateIfAbsent(ctx context.Context, phone, passwordHash string) (model.User, error)
	// Save updates an existing user. Only the password hash may change.
	// It returns apperror.ErrInvalidArgument for a zero id, an unknown id,
	// or a phone that differs from the stored one.
	Save(ctx context.Context, user model.User) (model.User, error)
}

// ChallengeRepository issues and checks single-use SMS codes.
type ChallengeRepository interface {
	// Send issues a new challenge for phone, replacing any live one.
	// It returns apperror.ErrRateLimited inside the per-phone send interval.
	Send(ctx context.Context, phone string) (model.SendResult, error)
	// Verify checks code against the challenge with the given id. A nil
	// error consumes the challenge.
	Verify(ctx context.Context, challengeID, phone, code string) error
	// VerifyLatest is Verify against the phone's live challenge.
	VerifyLatest(ctx context.Context, phone, code string) error
}
