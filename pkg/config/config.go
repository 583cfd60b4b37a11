// Package config loads the portal's configuration: a YAML file with
// environment variable overrides. Binaries pass explicit Config values to
// constructors; nothing reads the environment after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/orgportal/pkg/observability"
)

// Config holds all portal configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Firehose      FirehoseConfig      `yaml:"firehose"`
	Contacts      ContactsConfig      `yaml:"contacts"`
	Organizations OrganizationsConfig `yaml:"organizations"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the diagnostics HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig holds the metadata store connection settings.
type DatabaseConfig struct {
	// Backend selects "postgres" or "sqlite".
	Backend string `yaml:"backend"`

	PostgresURL string        `yaml:"postgresUrl"`
	SQLitePath  string        `yaml:"sqlitePath"`
	MaxConns    int           `yaml:"maxConns"`
	MaxIdle     int           `yaml:"maxIdle"`
	ConnTimeout time.Duration `yaml:"connTimeout"`
}

// RedisConfig holds the queue and cache connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// FirehoseConfig holds the webhook worker settings.
type FirehoseConfig struct {
	QueueKey        string        `yaml:"queueKey"`
	Parallelism     int           `yaml:"parallelism"`
	EmptyQueueDelay time.Duration `yaml:"emptyQueueDelay"`

	// AuditRetention is how long audit records are kept before the
	// scheduled cleanup removes them. Zero disables the cleanup.
	AuditRetention time.Duration `yaml:"auditRetention"`

	// AuditCleanupSchedule is a cron expression for the retention job.
	AuditCleanupSchedule string `yaml:"auditCleanupSchedule"`
}

// ContactsConfig holds the corporate identity service settings.
type ContactsConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	Token       string        `yaml:"token"`
	L1CacheSize int           `yaml:"l1CacheSize"`
	CacheTTL    time.Duration `yaml:"cacheTtl"`
}

// OrganizationsConfig points at the organization directory file.
type OrganizationsConfig struct {
	DirectoryPath string `yaml:"directoryPath"`
	WatchChanges  bool   `yaml:"watchChanges"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel           string `yaml:"logLevel"`
	MetricsEnabled     bool   `yaml:"metricsEnabled"`
	OTelEnabled        bool   `yaml:"otelEnabled"`
	OTelEndpoint       string `yaml:"otelEndpoint"`
	OTelServiceName    string `yaml:"otelServiceName"`
	OTelServiceVersion string `yaml:"otelServiceVersion"`
	OTelInsecure       bool   `yaml:"otelInsecure"`
}

// ParsedLogLevel converts the configured level string.
func (o ObservabilityConfig) ParsedLogLevel() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Backend:     "postgres",
			MaxConns:    20,
			MaxIdle:     5,
			ConnTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Firehose: FirehoseConfig{
			QueueKey:             "orgportal:webhooks",
			Parallelism:          2,
			EmptyQueueDelay:      10 * time.Second,
			AuditRetention:       90 * 24 * time.Hour,
			AuditCleanupSchedule: "17 3 * * *",
		},
		Contacts: ContactsConfig{
			L1CacheSize: 1024,
			CacheTTL:    6 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "orgportal",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnv("ORGPORTAL_HOST", c.Server.Host)
	c.Server.Port = getEnv("ORGPORTAL_PORT", c.Server.Port)

	c.Database.Backend = getEnv("ORGPORTAL_DB_BACKEND", c.Database.Backend)
	c.Database.PostgresURL = getEnv("ORGPORTAL_POSTGRES_URL", c.Database.PostgresURL)
	c.Database.SQLitePath = getEnv("ORGPORTAL_SQLITE_PATH", c.Database.SQLitePath)
	c.Database.MaxConns = getEnvInt("ORGPORTAL_DB_MAX_CONNS", c.Database.MaxConns)

	c.Redis.Addr = getEnv("ORGPORTAL_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("ORGPORTAL_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("ORGPORTAL_REDIS_DB", c.Redis.DB)

	c.Firehose.QueueKey = getEnv("ORGPORTAL_QUEUE_KEY", c.Firehose.QueueKey)
	c.Firehose.Parallelism = getEnvInt("ORGPORTAL_FIREHOSE_PARALLELISM", c.Firehose.Parallelism)
	c.Firehose.EmptyQueueDelay = getEnvDuration("ORGPORTAL_FIREHOSE_EMPTY_DELAY", c.Firehose.EmptyQueueDelay)

	c.Contacts.BaseURL = getEnv("ORGPORTAL_CONTACTS_URL", c.Contacts.BaseURL)
	c.Contacts.Token = getEnv("ORGPORTAL_CONTACTS_TOKEN", c.Contacts.Token)

	c.Organizations.DirectoryPath = getEnv("ORGPORTAL_ORG_DIRECTORY", c.Organizations.DirectoryPath)

	c.Observability.LogLevel = getEnv("ORGPORTAL_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("ORGPORTAL_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("ORGPORTAL_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("ORGPORTAL_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	switch c.Database.Backend {
	case "postgres":
		if c.Database.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres backend")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid database backend: %s (must be postgres or sqlite)", c.Database.Backend)
	}
	if c.Firehose.Parallelism < 0 {
		return fmt.Errorf("firehose parallelism must not be negative")
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
