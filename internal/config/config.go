package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	EventBus   EventBusConfig
	Preprocess PreprocessConfig
	Ingest     IngestConfig
	Log        LogConfig
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
	OIDCEnabled     bool   `env:"OIDC_ENABLED" envDefault:"false"`
	OIDCIssuerURL   string `env:"OIDC_ISSUER_URL"`
	OIDCClientID    string `env:"OIDC_CLIENT_ID"`
	// OIDCAllowedDomains restricts bearer tokens to these email domains.
	OIDCAllowedDomains string `env:"OIDC_ALLOWED_DOMAINS"`
}

// GetAllowedDomains returns the allowed domains as a slice.
func (c *AuthConfig) GetAllowedDomains() []string {
	if c.OIDCAllowedDomains == "" {
		return nil
	}
	domains := strings.Split(c.OIDCAllowedDomains, ",")
	for i := range domains {
		domains[i] = strings.TrimSpace(domains[i])
	}
	return domains
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" envDefault:"10485760"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"file:data/zentral.db?_foreign_keys=on&_busy_timeout=5000"`
}

// EventBusConfig selects and configures the event bus.
type EventBusConfig struct {
	Driver            string `env:"EVENT_BUS_DRIVER" envDefault:"memory"`
	MemoryBuffer      int    `env:"EVENT_BUS_MEMORY_BUFFER" envDefault:"1024"`
	RedisAddr         string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	RedisStream       string `env:"REDIS_STREAM" envDefault:"zentral"`
	NATSURL           string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"zentral"`
}

// PreprocessConfig holds the raw event preprocessing configuration.
type PreprocessConfig struct {
	Enabled         bool          `env:"PREPROCESS_ENABLED" envDefault:"true"`
	SerialCacheSize int           `env:"SERIAL_CACHE_SIZE" envDefault:"32"`
	SerialCacheTTL  time.Duration `env:"SERIAL_CACHE_TTL" envDefault:"10m"`
}

// IngestConfig holds inventory ingestion configuration.
type IngestConfig struct {
	RecordTimeout time.Duration `env:"INGEST_RECORD_TIMEOUT" envDefault:"5s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.EventBus); err != nil {
		return nil, fmt.Errorf("parsing event bus config: %w", err)
	}
	if err := env.Parse(&cfg.Preprocess); err != nil {
		return nil, fmt.Errorf("parsing preprocess config: %w", err)
	}
	if err := env.Parse(&cfg.Ingest); err != nil {
		return nil, fmt.Errorf("parsing ingest config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid. Every problem is reported.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		result = multierror.Append(result, fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		result = multierror.Append(result, fmt.Errorf("DB_DSN is required"))
	}

	if c.Auth.OIDCEnabled {
		if c.Auth.OIDCIssuerURL == "" {
			result = multierror.Append(result, fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled"))
		}
		if c.Auth.OIDCClientID == "" {
			result = multierror.Append(result, fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled"))
		}
	}

	switch c.EventBus.Driver {
	case "memory":
	case "redis":
		if c.EventBus.RedisAddr == "" {
			result = multierror.Append(result, fmt.Errorf("REDIS_ADDR is required with the redis event bus"))
		}
	case "nats":
		if c.EventBus.NATSURL == "" {
			result = multierror.Append(result, fmt.Errorf("NATS_URL is required with the nats event bus"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("EVENT_BUS_DRIVER must be memory, redis or nats, got %q", c.EventBus.Driver))
	}

	if c.Preprocess.SerialCacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("SERIAL_CACHE_SIZE must be positive"))
	}
	if c.Preprocess.SerialCacheTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("SERIAL_CACHE_TTL must be positive"))
	}
	if c.Ingest.RecordTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("INGEST_RECORD_TIMEOUT must be positive"))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		result = multierror.Append(result, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format))
	}

	return result.ErrorOrNil()
}
