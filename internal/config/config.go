package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Env     string `envconfig:"APP_ENV" default:"development"`
	Port    int    `envconfig:"APP_PORT" default:"8080"`
	API     APIConfig
	GitHub  GitHubConfig
	Ledger  LedgerConfig
	Queue   QueueConfig
	Refiner RefinerConfig
}

// inbound API configuration
type APIConfig struct {
	AccessToken    string   `envconfig:"API_ACCESS_TOKEN"`
	TrustedOrigins []string `envconfig:"CORS_TRUSTED_ORIGINS" default:"http://localhost:5173"`
}

// GitHub App + target repository configuration
type GitHubConfig struct {
	Owner          string        `envconfig:"GITHUB_OWNER" required:"true"`
	Repo           string        `envconfig:"GITHUB_REPO" required:"true"`
	Labels         string        `envconfig:"GITHUB_LABELS" default:"thoughtlog"`
	AppID          int64         `envconfig:"GITHUB_APP_ID" required:"true"`
	InstallationID int64         `envconfig:"GITHUB_INSTALLATION_ID" required:"true"`
	PrivateKey     string        `envconfig:"GITHUB_PRIVATE_KEY" required:"true"`
	BaseURL        string        `envconfig:"GITHUB_API_BASE" default:"https://api.github.com"`
	TokenMargin    time.Duration `envconfig:"GITHUB_TOKEN_MARGIN" default:"5m"`
}

// idempotency ledger configuration; empty DSN disables deduplication entirely
type LedgerConfig struct {
	DSN           string        `envconfig:"DATABASE_URL"`
	Retention     time.Duration `envconfig:"LEDGER_RETENTION" default:"336h"` // 14 days
	PurgeInterval time.Duration `envconfig:"LEDGER_PURGE_INTERVAL" default:"1h"`
}

// deferred refinement queue configuration; empty addr disables the voice path
type QueueConfig struct {
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	Key           string `envconfig:"QUEUE_KEY" default:"thoughtlog:refine"`
}

// Groq text-cleanup configuration
type RefinerConfig struct {
	APIKey  string        `envconfig:"GROQ_API_KEY"`
	Model   string        `envconfig:"GROQ_MODEL" default:"llama-3.3-70b-versatile"`
	Timeout time.Duration `envconfig:"GROQ_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Env] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Env)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Port)
	}
	if c.GitHub.AppID < 1 {
		return fmt.Errorf("GITHUB_APP_ID must be a positive integer")
	}
	if c.GitHub.InstallationID < 1 {
		return fmt.Errorf("GITHUB_INSTALLATION_ID must be a positive integer")
	}
	if !strings.Contains(c.GitHub.PrivateKey, "PRIVATE KEY") {
		return fmt.Errorf("GITHUB_PRIVATE_KEY does not look like a PEM-encoded key")
	}
	if c.Ledger.Retention < time.Hour {
		return fmt.Errorf("LEDGER_RETENTION must be at least 1h")
	}
	if c.Queue.RedisAddr != "" && c.Queue.Key == "" {
		return fmt.Errorf("QUEUE_KEY must be set when REDIS_ADDR is configured")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LedgerEnabled reports whether a backing store for idempotency is configured.
func (c *Config) LedgerEnabled() bool {
	return c.Ledger.DSN != ""
}

// QueueEnabled reports whether the deferred refinement queue is configured.
func (c *Config) QueueEnabled() bool {
	return c.Queue.RedisAddr != ""
}

// RefinerEnabled reports whether the text-cleanup model is configured.
func (c *Config) RefinerEnabled() bool {
	return c.Refiner.APIKey != ""
}

// GetCORSOrigins returns the list of trusted CORS origins
func (c *Config) GetCORSOrigins() []string {
	origins := make([]string, 0, len(c.API.TrustedOrigins))
	for _, origin := range c.API.TrustedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{Env=%s, Port=%d, GitHub=%s/%s, Labels=%q, "+
		"Ledger.Enabled=%t, Ledger.Retention=%s, Queue.Enabled=%t, Refiner.Model=%s}",
		c.Env, c.Port, c.GitHub.Owner, c.GitHub.Repo, c.GitHub.Labels,
		c.LedgerEnabled(), c.Ledger.Retention, c.QueueEnabled(), c.Refiner.Model)
}
