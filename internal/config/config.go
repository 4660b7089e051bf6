package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds service configuration.
type Config struct {
	ServerAddr    string `env:"SERVER_ADDR" envDefault:"0.0.0.0:8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	// DatabaseURL and RedisAddr select the session store backend: redis wins
	// over postgres, and with neither set sessions live in process memory.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`

	// OwnerTokens maps bearer tokens to owner UUIDs ("token=uuid,...").
	// Stands in for the login subsystem, which owns real token issuance.
	OwnerTokens map[string]string `env:"OWNER_TOKENS"`

	Session Session `envPrefix:"SESSION_"`
}

// Session contains the pairing-session knobs.
type Session struct {
	DefaultLifetime time.Duration `env:"LIFETIME_DEFAULT" envDefault:"60s"`
	MinLifetime     time.Duration `env:"LIFETIME_MIN" envDefault:"15s"`
	MaxLifetime     time.Duration `env:"LIFETIME_MAX" envDefault:"300s"`
	GracePeriod     time.Duration `env:"GRACE_PERIOD" envDefault:"8s"`
	TombstoneTTL    time.Duration `env:"TOMBSTONE_TTL" envDefault:"10m"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Session.MinLifetime > cfg.Session.MaxLifetime {
		return nil, fmt.Errorf("SESSION_LIFETIME_MIN exceeds SESSION_LIFETIME_MAX")
	}
	return &cfg, nil
}
