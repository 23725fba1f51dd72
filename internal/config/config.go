// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreValkey = "valkey"
	StoreMemory = "memory"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./queueup.db"`
	ValkeyAddr   string `env:"VALKEY_ADDR" envDefault:"localhost:6379"`

	JWTSecret             string        `env:"JWT_SECRET" envDefault:"change-me-in-production"` // #nosec G101 -- intentional dev default
	IdentityTokenDuration time.Duration `env:"IDENTITY_TOKEN_DURATION" envDefault:"24h"`

	RateLimitPerMinute       int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	SearchRateLimitPerMinute int      `env:"SEARCH_RATE_LIMIT_PER_MINUTE" envDefault:"10"`
	CORSAllowedOrigins       []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:4200"`
	TrustedProxies           []string `env:"TRUSTED_PROXIES" envSeparator:","`
	YouTubeAPIKey            string   `env:"YOUTUBE_API_KEY"`

	AutoCloseOnEmpty  bool          `env:"AUTO_CLOSE_ON_EMPTY" envDefault:"false"`
	SessionIdleTTL    time.Duration `env:"SESSION_IDLE_TTL" envDefault:"6h"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	QueuePolicy       string        `env:"QUEUE_POLICY" envDefault:"fifo"`
	SubscriberBuffer  int           `env:"SUBSCRIBER_BUFFER" envDefault:"16"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryDSNFrontend string `env:"SENTRY_DSN_FRONTEND"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"production"`

	LoggingLevel string `env:"LOGGING_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then parses the environment.
// Variables already set in the environment win over the file.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreSQLite, StoreValkey, StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of sqlite, valkey, memory; got %q", c.StoreBackend)
	}
	if c.SubscriberBuffer <= 0 {
		return errors.New("SUBSCRIBER_BUFFER must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	return nil
}
