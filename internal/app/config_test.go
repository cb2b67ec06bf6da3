package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("WASHGO_DATABASE_URL", "postgres://localhost/washgo")
		t.Setenv("WASHGO_AUTH_JWT_SECRET", testSecret)

		cfg, err := loadConfig([]string{})
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
		assert.Equal(t, "postgres://localhost/washgo", cfg.DatabaseURL)
		assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
		assert.Equal(t, 12, cfg.Auth.BcryptCost)
		assert.Equal(t, "usd", cfg.Stripe.Currency)
		assert.Equal(t, 3*time.Second, cfg.Places.Timeout)
		assert.Empty(t, cfg.Redis.Addr)
		assert.Empty(t, cfg.NATS.URL)
		assert.False(t, cfg.Orders.StrictTransitions)
		assert.Equal(t, 100, cfg.RateLimit.Max)
		assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
		assert.Equal(t, "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}", cfg.SuccessURL())
		assert.Equal(t, "http://localhost:3000/checkout/cancel", cfg.CancelURL())
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("WASHGO_DATABASE_URL", "postgres://db/washgo")
		t.Setenv("WASHGO_AUTH_JWT_SECRET", testSecret)
		t.Setenv("WASHGO_PUBLIC_URL", "https://washgo.example/")
		t.Setenv("WASHGO_ORDERS_STRICT_TRANSITIONS", "true")
		t.Setenv("WASHGO_MAIL_HOST", "smtp.example")
		t.Setenv("WASHGO_MAIL_FROM", "receipts@washgo.example")
		t.Setenv("WASHGO_NATS_URL", "nats://nats:4222")

		cfg, err := loadConfig([]string{})
		require.NoError(t, err)
		assert.True(t, cfg.Orders.StrictTransitions)
		assert.Equal(t, "https://washgo.example/checkout/cancel", cfg.CancelURL())
		assert.Equal(t, "smtp.example", cfg.Mail.Host)
		assert.Equal(t, 587, cfg.Mail.Port)
		assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	})

	t.Run("platform fallbacks", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://platform/db")
		t.Setenv("PORT", "9000")
		t.Setenv("REDIS_URL", "redis://:hunter2@cache:6380/2")
		t.Setenv("WASHGO_AUTH_JWT_SECRET", testSecret)

		cfg, err := loadConfig([]string{})
		require.NoError(t, err)
		assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
		assert.Equal(t, "cache:6380", cfg.Redis.Addr)
		assert.Equal(t, "hunter2", cfg.Redis.Password)
		assert.Equal(t, 2, cfg.Redis.DB)
	})

	t.Run("flags", func(t *testing.T) {
		t.Setenv("WASHGO_DATABASE_URL", "postgres://localhost/washgo")
		t.Setenv("WASHGO_AUTH_JWT_SECRET", testSecret)

		cfg, err := loadConfig([]string{"-addr", "127.0.0.1:7000"})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "no database",
			env:  map[string]string{"WASHGO_AUTH_JWT_SECRET": testSecret},
			want: "database URL is required",
		},
		{
			name: "no secret",
			env:  map[string]string{"WASHGO_DATABASE_URL": "postgres://localhost/washgo"},
			want: "token secret is required",
		},
		{
			name: "short secret",
			env: map[string]string{
				"WASHGO_DATABASE_URL":    "postgres://localhost/washgo",
				"WASHGO_AUTH_JWT_SECRET": "short",
			},
			want: "at least 32 bytes",
		},
		{
			name: "mail without sender",
			env: map[string]string{
				"WASHGO_DATABASE_URL":    "postgres://localhost/washgo",
				"WASHGO_AUTH_JWT_SECRET": testSecret,
				"WASHGO_MAIL_HOST":       "smtp.example",
			},
			want: "mail sender is required",
		},
		{
			name: "bad redis url",
			env: map[string]string{
				"WASHGO_DATABASE_URL":    "postgres://localhost/washgo",
				"WASHGO_AUTH_JWT_SECRET": testSecret,
				"REDIS_URL":              "http://not-redis",
			},
			want: "parse REDIS_URL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig([]string{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
