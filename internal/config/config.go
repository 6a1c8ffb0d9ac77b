package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Preview store backends.
const (
	PreviewStoreMemory = "memory"
	PreviewStoreRedis  = "redis"
)

// Config holds the runtime settings of the service and the CLI.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	ClassifierURL string `env:"CLASSIFIER_URL" envDefault:"http://127.0.0.1:8000"`
	// Zero disables the client-side limit; the request then lives as long as
	// the session keeps it.
	ClassifierTimeout time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"0s"`

	BreedsFile        string `env:"BREEDS_FILE"`
	BreedsDatabaseDSN string `env:"BREEDS_DATABASE_DSN"`

	// Sessions not accessed for SessionIdleTimeout are closed by a sweep
	// running every SessionSweepInterval. Zero disables expiry.
	SessionIdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"15m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
	MaxSessions          int           `env:"MAX_SESSIONS" envDefault:"1000"`

	PreviewStore string        `env:"PREVIEW_STORE" envDefault:"memory"`
	PreviewTTL   time.Duration `env:"PREVIEW_TTL" envDefault:"30m"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	c.PreviewStore = strings.ToLower(strings.TrimSpace(c.PreviewStore))
	switch c.PreviewStore {
	case PreviewStoreMemory, PreviewStoreRedis:
	default:
		return fmt.Errorf("PREVIEW_STORE must be %q or %q, got %q", PreviewStoreMemory, PreviewStoreRedis, c.PreviewStore)
	}
	if strings.TrimSpace(c.ClassifierURL) == "" {
		return errors.New("CLASSIFIER_URL is required")
	}
	if c.ClassifierTimeout < 0 {
		return errors.New("CLASSIFIER_TIMEOUT must not be negative")
	}
	if c.PreviewTTL <= 0 {
		return errors.New("PREVIEW_TTL must be positive")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.SessionIdleTimeout > 0 && c.SessionSweepInterval <= 0 {
		return errors.New("SESSION_SWEEP_INTERVAL must be positive when SESSION_IDLE_TIMEOUT is set")
	}
	if c.MaxSessions < 0 {
		return errors.New("MAX_SESSIONS must not be negative")
	}
	if c.PreviewStore == PreviewStoreRedis {
		// A preview must outlive the session holding it: the session is closed
		// at most idle timeout plus one sweep after its last access.
		if c.SessionIdleTimeout == 0 {
			return errors.New("SESSION_IDLE_TIMEOUT is required with the redis preview store")
		}
		if limit := c.SessionIdleTimeout + c.SessionSweepInterval; c.PreviewTTL <= limit {
			return fmt.Errorf("PREVIEW_TTL (%s) must exceed SESSION_IDLE_TIMEOUT plus SESSION_SWEEP_INTERVAL (%s)", c.PreviewTTL, limit)
		}
	}
	return nil
}
