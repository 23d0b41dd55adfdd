package config

import (
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.EventBus.Driver)
	assert.Equal(t, 32, cfg.Preprocess.SerialCacheSize)
	assert.Equal(t, 10*time.Minute, cfg.Preprocess.SerialCacheTTL)
	assert.Equal(t, 5*time.Second, cfg.Ingest.RecordTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("EVENT_BUS_DRIVER", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SERIAL_CACHE_TTL", "30s")
	t.Setenv("OIDC_ALLOWED_DOMAINS", "example.com, zentral.io")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.EventBus.Driver)
	assert.Equal(t, 3, cfg.EventBus.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.Preprocess.SerialCacheTTL)
	assert.Equal(t, []string{"example.com", "zentral.io"}, cfg.Auth.GetAllowedDomains())
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("INGEST_RECORD_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("EVENT_BUS_DRIVER", "kafka")
	t.Setenv("OIDC_ENABLED", "true")
	t.Setenv("LOG_FORMAT", "xml")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	// driver, issuer, client id, event bus, log format
	assert.Len(t, merr.Errors, 5)
}
