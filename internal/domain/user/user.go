package user

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned on registration with an existing username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrEmailTaken is returned on registration with an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPasswordMismatch is returned when password and confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrInvalidCredentials is returned for any failed login.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ValidationError describes a registration field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// User is a registered customer or administrator.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	Phone        string
	IsAdmin      bool
	// FirstTime is true until the first paid order is recorded.
	FirstTime bool
	CreatedAt time.Time
}

// Repository is the user side of the store.
type Repository interface {
	// Create inserts the user and returns its id. Unique violations are
	// reported as ErrUsernameTaken or ErrEmailTaken.
	Create(ctx context.Context, u *User) (int64, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	ListUsernames(ctx context.Context) ([]string, error)
}
