// Package memory implements the repository contracts in process memory.
//
// State lives for the life of the process and is lost on restart. Every
// store is constructed explicitly by the server wiring; tests build a fresh
// one per case.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/collar-auth/internal/apperror"
	"github.com/sakif/collar-auth/internal/model"
	"github.com/sakif/collar-auth/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

// FirstUserID is the first id handed out by a fresh store.
const FirstUserID int64 = 1000

// UserStore keeps users in two maps, by phone and by id.
//
// LOCKING:
// Both maps and the id counter are guarded by one RWMutex. Each write holds
// the write lock across its whole check-allocate-insert sequence, so the two
// indices are never observed out of step and a phone can only be claimed
// once. Reads share the read lock.
type UserStore struct {
	mu      sync.RWMutex
	byPhone map[string]*model.User
	byID    map[int64]*model.User
	nextID  int64
	now     func() time.Time
}

// NewUserStore returns an empty store whose first user gets FirstUserID.
func NewUserStore() *UserStore {
	return &UserStore{
		byPhone: make(map[string]*model.User),
		byID:    make(map[int64]*model.User),
		nextID:  FirstUserID,
		now:     time.Now,
	}
}

// FindByPhone returns a copy of the user registered under phone.
func (s *UserStore) FindByPhone(_ context.Context, phone string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byPhone[phone]
	if !ok {
		return model.User{}, apperror.NotFound("user", phone)
	}
	return *u, nil
}

// FindByID returns a copy of the user with the given id.
func (s *UserStore) FindByID(_ context.Context, id int64) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return model.User{}, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return *u, nil
}

// CreateIfAbsent registers phone with a freshly allocated id.
//
// The existence check, the id allocation and both index inserts happen in a
// single write-locked section. Of any number of concurrent calls for the
// same phone, exactly one returns a user; the rest get ErrConflict.
func (s *UserStore) CreateIfAbsent(_ context.Context, phone, passwordHash string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPhone[phone]; exists {
		return model.User{}, apperror.Conflict("user", phone)
	}

	now := s.now()
	u := &model.User{
		ID:           s.nextID,
		Phone:        phone,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextID++

	s.byPhone[u.Phone] = u
	s.byID[u.ID] = u

	return *u, nil
}

// Save replaces the password hash of an existing user.
//
// The stored record is the source of truth for everything but the hash:
// id, phone and CreatedAt are kept, UpdatedAt is refreshed.
func (s *UserStore) Save(_ context.Context, user model.User) (model.User, error) {
	if user.ID == 0 {
		return model.User{}, apperror.InvalidArgument("memory: save requires a user id; use CreateIfAbsent to create users")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[user.ID]
	if !ok {
		return model.User{}, apperror.InvalidArgument("memory: no user with id " + strconv.FormatInt(user.ID, 10))
	}
	if stored.Phone != user.Phone {
		return model.User{}, apperror.InvalidArgument("memory: phone is immutable for user " + strconv.FormatInt(user.ID, 10))
	}

	// Both indices point at the same record, so one write updates both.
	stored.PasswordHash = user.PasswordHash
	stored.UpdatedAt = s.now()

	return *stored, nil
}

// Len reports how many users are stored.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
