// Package repository implements the domain stores on PostgreSQL.
package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/washgo/delivery/db"
	"github.com/washgo/delivery/internal/domain/order"
)

const uniqueViolation = "23505"

// PoolConfig tunes the connection pool. Zero values keep pgxpool defaults.
type PoolConfig struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// uniqueConstraint returns the violated constraint name if err is a unique
// violation.
func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func timeOfDayParam(t order.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func timeOfDayValue(t pgtype.Time) order.TimeOfDay {
	return order.TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}
