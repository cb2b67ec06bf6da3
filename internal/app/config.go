package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Config holds the complete application configuration, loadable from
// environment variables (WASHGO_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `env:"DATABASE_URL" usage:"PostgreSQL connection URL (WASHGO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// PublicURL is where customers are sent back to after checkout.
	PublicURL string `env:"PUBLIC_URL" default:"http://localhost:3000" usage:"Public base URL of the web client" flag:"public-url"`
	Database  DatabaseConfig
	Auth      AuthConfig
	Stripe    StripeConfig
	Places    PlacesConfig
	Redis     RedisConfig
	NATS      NATSConfig `env:"NATS"`
	Mail      MailConfig
	Orders    OrdersConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// DatabaseConfig tunes the PostgreSQL pool.
type DatabaseConfig struct {
	MaxConns        int32         `env:"MAX_CONNS" default:"10" usage:"Maximum pool connections"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" default:"1h" usage:"Maximum connection lifetime"`
}

// AuthConfig controls session tokens and password hashing.
type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET" usage:"HMAC secret for session tokens" flag:"jwt-secret"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" default:"24h" usage:"Session token lifetime"`
	BcryptCost int           `env:"BCRYPT_COST" default:"12" usage:"bcrypt cost for new password hashes"`
}

// StripeConfig configures the checkout provider.
type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY" usage:"Stripe secret API key" flag:"stripe-secret-key"`
	WebhookSecret string `env:"WEBHOOK_SECRET" usage:"Stripe webhook signing secret" flag:"stripe-webhook-secret"`
	Currency      string `env:"CURRENCY" default:"usd" usage:"ISO currency code for charges"`
}

// PlacesConfig configures address autocomplete. An empty key disables
// suggestions.
type PlacesConfig struct {
	APIKey  string        `env:"API_KEY" usage:"Google Places API key" flag:"places-api-key"`
	BaseURL string        `env:"BASE_URL" usage:"Autocomplete endpoint override"`
	Timeout time.Duration `env:"TIMEOUT" default:"3s" usage:"Autocomplete request timeout"`
}

// RedisConfig configures the suggestion cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `env:"ADDR" usage:"Redis address host:port (or REDIS_URL)"`
	Password string        `env:"PASSWORD" usage:"Redis password"`
	DB       int           `env:"DB" default:"0" usage:"Redis database number"`
	TTL      time.Duration `env:"TTL" default:"24h" usage:"Suggestion cache lifetime"`
}

// NATSConfig configures order event publishing. An empty URL disables it.
type NATSConfig struct {
	URL string `env:"URL" usage:"NATS server URL" flag:"nats-url"`
}

// MailConfig configures SMTP receipts. An empty Host disables them.
type MailConfig struct {
	Host     string `env:"HOST" usage:"SMTP relay host"`
	Port     int    `env:"PORT" default:"587" usage:"SMTP relay port"`
	Username string `env:"USERNAME" usage:"SMTP username"`
	Password string `env:"PASSWORD" usage:"SMTP password"`
	From     string `env:"FROM" usage:"Receipt sender address"`
}

// OrdersConfig controls order lifecycle rules.
type OrdersConfig struct {
	StrictTransitions bool `env:"STRICT_TRANSITIONS" default:"false" usage:"Reject admin status changes outside the lifecycle graph"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// command-line flags, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "WASHGO",
		Args:      args,
		Files:     []string{"config.yaml", "/etc/washgo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, PORT and REDIS_URL
// to the application's WASHGO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" && c.Redis.Addr == "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		c.Redis.Addr = opts.Addr
		c.Redis.Password = opts.Password
		c.Redis.DB = opts.DB
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set WASHGO_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("token secret is required: set WASHGO_AUTH_JWT_SECRET")
	case len(c.Auth.JWTSecret) < 32:
		return errors.New("token secret must be at least 32 bytes")
	case c.Mail.Host != "" && c.Mail.From == "":
		return errors.New("mail sender is required when a relay host is set: set WASHGO_MAIL_FROM")
	}
	return nil
}

// SuccessURL is the checkout return URL. The provider substitutes the
// session id placeholder.
func (c *Config) SuccessURL() string {
	return c.PublicURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is where an abandoned checkout returns to.
func (c *Config) CancelURL() string {
	return c.PublicURL + "/checkout/cancel"
}
