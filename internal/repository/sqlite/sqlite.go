// Package sqlite implements repository.UserRepository on an embedded SQLite
// database.
//
// WHY SQLITE HERE?
// The in-memory store in package memory gets its guarantees from a mutex.
// This backend gets the same guarantees from the database itself: a UNIQUE
// constraint on phone and an AUTOINCREMENT key. It exists so the service can
// run against a real SQL engine with no server to install, and so the
// uniqueness guarantee is exercised through a second, independent mechanism.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite. No CGo, no C compiler, cross
// compilation just works.
//
// IN-MEMORY ONLY:
// The server opens ":memory:", so accounts still live exactly as long as the
// process. A ":memory:" database belongs to the connection that created it;
// a second pooled connection would see a different, empty database. The pool
// is therefore pinned to ONE connection, which also serialises every
// transaction.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryDSN is the data source name of a private in-memory database.
const MemoryDSN = ":memory:"

// DB wraps a sql.DB and implements the user repository.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens the database at dsn, pins the pool to one connection and runs
// migrations.
//
//	db, err := sqlite.New(sqlite.MemoryDSN)
//	if err != nil { ... }
//	defer db.Close()
func New(dsn string) (*DB, error) {
	// "sqlite" is the driver name registered by modernc.org/sqlite.
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection, never recycled: closing it would drop the database.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	// Ping forces the connection open now rather than on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database. For ":memory:" this discards every row.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the users table and seeds the id sequence.
//
// AUTOINCREMENT keeps its high-water mark in the sqlite_sequence table.
// Seeding it with firstUserID-1 makes the first inserted row get
// firstUserID, and AUTOINCREMENT guarantees ids are never reused.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			phone         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO sqlite_sequence (name, seq)
		SELECT 'users', ?
		WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = 'users')
	`, firstUserID-1)
	if err != nil {
		return fmt.Errorf("seeding users id sequence: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is SQLite rejecting a duplicate
// value in a UNIQUE column.
func isUniqueViolation(err error) bool {
	var serr *moderncsqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
