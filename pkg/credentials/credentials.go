// Package credentials validates username/password pairs against a backing store.
//
// Three backends are provided:
//   - memory: users held in a map, seeded from configuration
//   - badger: users persisted in an embedded BadgerDB
//   - sql: users in a SQL table (sqlite or postgres via pgx)
//
// Passwords are stored as bcrypt hashes in every backend.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/boowebserver/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserNotFound means the username has no record in the store.
	ErrUserNotFound = errors.New("user not found")

	// ErrPasswordMismatch means the user exists but the password is wrong.
	ErrPasswordMismatch = errors.New("passwords don't match")

	// ErrUserExists is returned by AddUser for a duplicate username.
	ErrUserExists = errors.New("user already exists")
)

// Validator checks a username/password pair.
//
// Validate returns nil on success, ErrUserNotFound or ErrPasswordMismatch
// (possibly wrapped) for a rejected login, and any other error for a backend
// failure.
type Validator interface {
	Validate(ctx context.Context, username, password string) error
	Close() error
}

// Store is a Validator that can also create users.
type Store interface {
	Validator
	AddUser(ctx context.Context, username, password string) error
}

// IsUnauthorized reports whether err is a rejected login rather than a
// backend failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrPasswordMismatch)
}

// hashPassword returns the bcrypt hash of password. cost 0 selects bcrypt.DefaultCost.
func hashPassword(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// comparePassword maps a bcrypt mismatch to ErrPasswordMismatch. Any other
// bcrypt error means the stored value is not a usable hash (e.g. a plaintext
// password written by an older tool); it never matches, and the user has to
// be re-created with AddUser.
func comparePassword(hash []byte, password, username string) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return fmt.Errorf("user %q: %w", username, ErrPasswordMismatch)
	default:
		logger.Warn("Stored password for user '%s' is not a bcrypt hash (%v); re-create the user with useradd", username, err)
		return fmt.Errorf("user %q: stored password is not a bcrypt hash: %w", username, ErrPasswordMismatch)
	}
}

func validateInput(username, password string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if password == "" {
		return errors.New("password is required")
	}
	return nil
}
