// Package cache implements the address suggestion cache on Redis.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/domain/address"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}
	return rdb, nil
}

var _ address.Cache = (*Redis)(nil)

// Redis stores byte values with a TTL.
type Redis struct {
	client *redis.Client
	lg     *zap.Logger
}

// NewRedis wraps a connected client.
func NewRedis(client *redis.Client, lg *zap.Logger) *Redis {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Redis{client: client, lg: lg}
}

// Get returns the value stored under key. A missing key is not an error.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "get %q", key)
	}
	return val, true, nil
}

// Set stores value under key for ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	r.lg.Debug("Cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// Ping checks connectivity, for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
