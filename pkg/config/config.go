package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tenantdesk/accesskit/pkg/observability"
)

// Session store backends
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Cache and session configuration
	Cache CacheConfig

	// Assignment engine tuning
	Assignment AssignmentConfig

	// Profile catalog settings
	Catalog CatalogConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	PostgresURL         string
	PostgresReplicaURLs string // comma-separated
	MaxConns            int
	MinConns            int
	Timeout             time.Duration
	MigrateOnStart      bool
}

// ReplicaURLs splits the configured replica list
func (d DatabaseConfig) ReplicaURLs() []string {
	var urls []string
	for _, u := range strings.Split(d.PostgresReplicaURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// CacheConfig holds Redis, profile cache and session store settings
type CacheConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int

	CacheEnabled bool
	CacheTTL     time.Duration

	SessionStore     string
	SessionTTL       time.Duration
	SessionCacheSize int
}

// AssignmentConfig tunes population loading and batch writes
type AssignmentConfig struct {
	BatchSize          int
	PopulationLimit    int
	PopulationMaxLimit int
	ExcludedRoles      []string
}

// CatalogConfig holds profile catalog settings
type CatalogConfig struct {
	ModuleCatalogPath string
	PurgeSchedule     string // cron spec; empty when the purge job is off
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// Audit
	AuditEnabled bool
	AuditStdout  bool // also write audit events to stdout as JSON lines

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Assignment:    loadAssignmentConfig(),
		Catalog:       loadCatalogConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ACCESSKIT_HOST", "0.0.0.0"),
		Port:            getEnv("ACCESSKIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ACCESSKIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ACCESSKIT_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("ACCESSKIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ACCESSKIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ACCESSKIT_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("ACCESSKIT_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:         getEnv("ACCESSKIT_POSTGRES_URL", ""),
		PostgresReplicaURLs: getEnv("ACCESSKIT_POSTGRES_REPLICA_URLS", ""),
		MaxConns:            getEnvInt("ACCESSKIT_POSTGRES_MAX_CONNS", 20),
		MinConns:            getEnvInt("ACCESSKIT_POSTGRES_MIN_CONNS", 2),
		Timeout:             getEnvDuration("ACCESSKIT_POSTGRES_TIMEOUT", 5*time.Second),
		MigrateOnStart:      getEnvBool("ACCESSKIT_MIGRATE_ON_START", true),
	}
}

// loadCacheConfig loads Redis and session configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		RedisURL:         getEnv("ACCESSKIT_REDIS_URL", ""),
		RedisPassword:    getEnv("ACCESSKIT_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("ACCESSKIT_REDIS_DB", 0),
		CacheEnabled:     getEnvBool("ACCESSKIT_CACHE_ENABLED", false),
		CacheTTL:         getEnvDuration("ACCESSKIT_CACHE_TTL", 5*time.Minute),
		SessionStore:     strings.ToLower(getEnv("ACCESSKIT_SESSION_STORE", SessionStoreMemory)),
		SessionTTL:       getEnvDuration("ACCESSKIT_SESSION_TTL", 30*time.Minute),
		SessionCacheSize: getEnvInt("ACCESSKIT_SESSION_CACHE_SIZE", 1024),
	}
}

// loadAssignmentConfig loads assignment tuning from environment
func loadAssignmentConfig() AssignmentConfig {
	return AssignmentConfig{
		BatchSize:          getEnvInt("ACCESSKIT_BATCH_SIZE", 100),
		PopulationLimit:    getEnvInt("ACCESSKIT_POPULATION_LIMIT", 1000),
		PopulationMaxLimit: getEnvInt("ACCESSKIT_POPULATION_MAX_LIMIT", 10000),
		ExcludedRoles:      getEnvList("ACCESSKIT_EXCLUDED_ROLES", []string{"owner", "platform_operator"}),
	}
}

// loadCatalogConfig loads catalog settings from environment
func loadCatalogConfig() CatalogConfig {
	schedule := getEnv("ACCESSKIT_PURGE_SCHEDULE", "@daily")
	if strings.EqualFold(schedule, "off") {
		schedule = ""
	}
	return CatalogConfig{
		ModuleCatalogPath: getEnv("ACCESSKIT_MODULE_CATALOG", ""),
		PurgeSchedule:     schedule,
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ACCESSKIT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ACCESSKIT_METRICS_ENABLED", true),
		AuditEnabled:       getEnvBool("ACCESSKIT_AUDIT_ENABLED", true),
		AuditStdout:        getEnvBool("ACCESSKIT_AUDIT_STDOUT", false),
		OTelEnabled:        getEnvBool("ACCESSKIT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ACCESSKIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ACCESSKIT_OTEL_SERVICE_NAME", "accessd"),
		OTelServiceVersion: getEnv("ACCESSKIT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ACCESSKIT_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ACCESSKIT_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("postgres max conns must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	switch c.Cache.SessionStore {
	case SessionStoreMemory:
		if c.Cache.SessionCacheSize <= 0 {
			return fmt.Errorf("session cache size must be positive")
		}
	case SessionStoreRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis session store")
		}
	default:
		return fmt.Errorf("invalid session store: %s (must be memory or redis)", c.Cache.SessionStore)
	}
	if c.Cache.CacheEnabled && c.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required when the profile cache is enabled")
	}
	if c.Cache.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Assignment.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Assignment.PopulationLimit <= 0 {
		return fmt.Errorf("population limit must be positive")
	}
	if c.Assignment.PopulationMaxLimit < c.Assignment.PopulationLimit {
		return fmt.Errorf("population max limit (%d) is below the default limit (%d)",
			c.Assignment.PopulationMaxLimit, c.Assignment.PopulationLimit)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default.
// Setting the variable to "-" yields an empty list.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "-" {
		return nil
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
