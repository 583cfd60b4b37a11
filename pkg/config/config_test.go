package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgportal/pkg/observability"
)

func TestLoadDefaultsRequireDatabase(t *testing.T) {
	_, err := Load("")
	assert.ErrorContains(t, err, "postgres URL is required")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  backend: sqlite
  sqlitePath: /var/lib/orgportal/portal.db
firehose:
  parallelism: 4
  emptyQueueDelay: 30s
observability:
  logLevel: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Backend)
	assert.Equal(t, 4, cfg.Firehose.Parallelism)
	assert.Equal(t, 30*time.Second, cfg.Firehose.EmptyQueueDelay)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.ParsedLogLevel())

	// Defaults fill the unset sections.
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "orgportal:webhooks", cfg.Firehose.QueueKey)
	assert.Equal(t, "17 3 * * *", cfg.Firehose.AuditCleanupSchedule)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  backend: postgres
  postgresUrl: postgres://localhost/portal
redis:
  addr: localhost:6379
`), 0o600))

	t.Setenv("ORGPORTAL_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ORGPORTAL_FIREHOSE_PARALLELISM", "8")
	t.Setenv("ORGPORTAL_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Firehose.Parallelism)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.ParsedLogLevel())
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Backend = "oracle"
	assert.ErrorContains(t, cfg.Validate(), "invalid database backend")
}

func TestValidateOTelRequiresEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Backend = "sqlite"
	cfg.Database.SQLitePath = ":memory:"
	cfg.Observability.OTelEnabled = true
	cfg.Observability.OTelEndpoint = ""
	assert.ErrorContains(t, cfg.Validate(), "OpenTelemetry endpoint")
}

func TestLoadMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
