package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/sakif/collar-auth/internal/apperror"
	"github.com/sakif/collar-auth/internal/model"
	"github.com/sakif/collar-auth/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// firstUserID matches memory.FirstUserID so both backends number users alike.
const firstUserID int64 = 1000

const selectUser = `SELECT id, phone, password_hash, created_at, updated_at FROM users`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Phone, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// FindByPhone returns the user registered under phone.
func (db *DB) FindByPhone(ctx context.Context, phone string) (model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, selectUser+` WHERE phone = ?`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, apperror.NotFound("user", phone)
		}
		return model.User{}, fmt.Errorf("sqlite: getting user by phone: %w", err)
	}
	return u, nil
}

// FindByID returns the user with the given id.
func (db *DB) FindByID(ctx context.Context, id int64) (model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return model.User{}, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// CreateIfAbsent inserts a user for phone inside a transaction.
//
// The SELECT catches the common duplicate early with a clean error; the
// UNIQUE constraint on phone is what actually guarantees one winner, so a
// constraint violation on INSERT is mapped to the same ErrConflict.
func (db *DB) CreateIfAbsent(ctx context.Context, phone, passwordHash string) (model.User, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback()

	var taken int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE phone = ?`, phone,
	).Scan(&taken); err != nil {
		return model.User{}, fmt.Errorf("sqlite: checking phone: %w", err)
	}
	if taken > 0 {
		return model.User{}, apperror.Conflict("user", phone)
	}

	now := db.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (phone, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		phone, passwordHash, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, apperror.Conflict("user", phone)
		}
		return model.User{}, fmt.Errorf("sqlite: inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("sqlite: reading new user id: %w", err)
	}

	u, err := scanUser(tx.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
	if err != nil {
		return model.User{}, fmt.Errorf("sqlite: reading back user %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return model.User{}, fmt.Errorf("sqlite: committing user: %w", err)
	}
	return u, nil
}

// Save replaces the password hash of an existing user. The id must exist
// and the phone must match the stored one.
func (db *DB) Save(ctx context.Context, user model.User) (model.User, error) {
	if user.ID == 0 {
		return model.User{}, apperror.InvalidArgument("sqlite: save requires a user id; use CreateIfAbsent to create users")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var storedPhone string
	err = tx.QueryRowContext(ctx, `SELECT phone FROM users WHERE id = ?`, user.ID).Scan(&storedPhone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, apperror.InvalidArgument("sqlite: no user with id " + strconv.FormatInt(user.ID, 10))
		}
		return model.User{}, fmt.Errorf("sqlite: looking up user %d: %w", user.ID, err)
	}
	if storedPhone != user.Phone {
		return model.User{}, apperror.InvalidArgument("sqlite: phone is immutable for user " + strconv.FormatInt(user.ID, 10))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		user.PasswordHash, db.now(), user.ID,
	); err != nil {
		return model.User{}, fmt.Errorf("sqlite: updating user %d: %w", user.ID, err)
	}

	saved, err := scanUser(tx.QueryRowContext(ctx, selectUser+` WHERE id = ?`, user.ID))
	if err != nil {
		return model.User{}, fmt.Errorf("sqlite: reading back user %d: %w", user.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.User{}, fmt.Errorf("sqlite: committing user %d: %w", user.ID, err)
	}
	return saved, nil
}

// Count returns the number of stored users.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting users: %w", err)
	}
	return n, nil
}
