package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/washgo/delivery/internal/domain/user"
)

const (
	userColumns = `id, username, password_hash, email, phone, is_admin, is_first_time_customer, created_at`

	createUserSQL = `INSERT INTO users (username, password_hash, email, phone, is_admin, is_first_time_customer)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	getUserByIDSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	getUserByUsernameSQL = `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	usernameExistsSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`

	updatePasswordHashSQL = `UPDATE users SET password_hash = $2 WHERE id = $1`

	listUsernamesSQL = `SELECT username FROM users`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a user and returns the new id.
func (r *UserRepository) Create(ctx context.Context, u *user.User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, createUserSQL,
		u.Username, u.PasswordHash, u.Email, u.Phone, u.IsAdmin, u.FirstTime,
	).Scan(&id)
	if err != nil {
		if name, ok := uniqueConstraint(err); ok {
			switch name {
			case "users_email_key":
				return 0, user.ErrEmailTaken
			default:
				return 0, user.ErrUsernameTaken
			}
		}
		return 0, errors.Wrap(err, "insert user")
	}
	return id, nil
}

// GetByID returns a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return r.getOne(ctx, getUserByIDSQL, id)
}

// GetByUsername returns a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.getOne(ctx, getUserByUsernameSQL, username)
}

func (r *UserRepository) getOne(ctx context.Context, sql string, arg any) (*user.User, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query user")
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan user")
	}
	return &u, nil
}

// UsernameExists reports whether the username is registered.
func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, usernameExistsSQL, username).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check username")
	}
	return exists, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, updatePasswordHashSQL, id, hash)
	if err != nil {
		return errors.Wrap(err, "update password hash")
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

// ListUsernames returns every registered username.
func (r *UserRepository) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listUsernamesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list usernames")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var u user.User
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.Phone,
		&u.IsAdmin, &u.FirstTime, &u.CreatedAt,
	)
	return u, err
}
