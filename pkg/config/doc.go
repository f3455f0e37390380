// Package config loads accessd configuration from environment variables.
//
// Every setting has a default except the primary database URL. LoadConfig
// validates the result and refuses to start on inconsistent settings such as a
// Redis session store without a Redis URL.
//
// Server settings:
//
//	ACCESSKIT_HOST="0.0.0.0"
//	ACCESSKIT_PORT="8080"
//	ACCESSKIT_HEALTH_PORT="9090"
//	ACCESSKIT_READ_TIMEOUT="15s"
//	ACCESSKIT_WRITE_TIMEOUT="60s"
//
// Database settings:
//
//	ACCESSKIT_POSTGRES_URL="postgres://localhost/accesskit"
//	ACCESSKIT_POSTGRES_REPLICA_URLS="postgres://replica1/accesskit,postgres://replica2/accesskit"
//	ACCESSKIT_POSTGRES_MAX_CONNS="20"
//	ACCESSKIT_MIGRATE_ON_START="true"
//
// Cache and sessions:
//
//	ACCESSKIT_REDIS_URL="localhost:6379"
//	ACCESSKIT_CACHE_ENABLED="false"
//	ACCESSKIT_CACHE_TTL="5m"
//	ACCESSKIT_SESSION_STORE="memory"  # memory, redis
//	ACCESSKIT_SESSION_TTL="30m"
//
// Assignment tuning:
//
//	ACCESSKIT_BATCH_SIZE="100"
//	ACCESSKIT_POPULATION_LIMIT="1000"
//	ACCESSKIT_POPULATION_MAX_LIMIT="10000"
//	ACCESSKIT_EXCLUDED_ROLES="owner,platform_operator"
//
// Catalog:
//
//	ACCESSKIT_MODULE_CATALOG="/etc/accesskit/modules.yaml"
//	ACCESSKIT_PURGE_SCHEDULE="@daily"  # "off" disables the purge job
//
// Observability:
//
//	ACCESSKIT_LOG_LEVEL="info"
//	ACCESSKIT_METRICS_ENABLED="true"
//	ACCESSKIT_AUDIT_ENABLED="true"
//	ACCESSKIT_OTEL_ENABLED="false"
//	ACCESSKIT_OTEL_ENDPOINT="localhost:4317"
//	ACCESSKIT_OTEL_SAMPLE_RATIO="1.0"
package config
