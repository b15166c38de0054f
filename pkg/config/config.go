package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/filedepot/filedepot/pkg/observability"
	"github.com/filedepot/filedepot/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Blob backend selection: "s3" or "memory" (development only)
	BlobBackend string

	// Maintenance configuration
	Maintenance MaintenanceConfig

	// Observability configuration
	Observability ObservabilityConfig

	// PolicyFile is the optional path to the YAML policy overlay. Empty
	// means built-in policy defaults.
	PolicyFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// MaintenanceConfig holds the janitor schedules
type MaintenanceConfig struct {
	// Cron expressions for the scheduled jobs
	VersionPruneSchedule string
	TrashExpirySchedule  string
	AuditPurgeSchedule   string

	// How often the changed-file monitor compares blob state against
	// metadata
	WatchInterval time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		BlobBackend:   getEnv("FILEDEPOT_BLOB_BACKEND", "s3"),
		Maintenance:   loadMaintenanceConfig(),
		Observability: loadObservabilityConfig(),
		PolicyFile:    getEnv("FILEDEPOT_POLICY_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FILEDEPOT_HOST", "0.0.0.0"),
		Port:            getEnv("FILEDEPOT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FILEDEPOT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FILEDEPOT_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("FILEDEPOT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FILEDEPOT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FILEDEPOT_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("FILEDEPOT_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("FILEDEPOT_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = strings.Split(replicaURLs, ",")
	}
	if maxConns := getEnvInt("FILEDEPOT_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("FILEDEPOT_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("FILEDEPOT_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// S3 config
	if s3Endpoint := getEnv("FILEDEPOT_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("FILEDEPOT_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("FILEDEPOT_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("FILEDEPOT_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("FILEDEPOT_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("FILEDEPOT_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	// Redis config
	if redisURL := getEnv("FILEDEPOT_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("FILEDEPOT_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("FILEDEPOT_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("FILEDEPOT_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("FILEDEPOT_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Edit-link cache
	if ttl := getEnvDuration("FILEDEPOT_EDIT_LINK_TTL", 0); ttl > 0 {
		cfg.EditLinkTTL = ttl
	}
	if size := getEnvInt("FILEDEPOT_EDIT_LINK_CACHE_SIZE", 0); size > 0 {
		cfg.EditLinkCacheSize = size
	}

	return cfg
}

// loadMaintenanceConfig loads the janitor schedules from environment
func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		VersionPruneSchedule: getEnv("FILEDEPOT_PRUNE_SCHEDULE", "30 3 * * *"),
		TrashExpirySchedule:  getEnv("FILEDEPOT_TRASH_EXPIRY_SCHEDULE", "0 4 * * *"),
		AuditPurgeSchedule:   getEnv("FILEDEPOT_AUDIT_PURGE_SCHEDULE", "15 4 * * 0"),
		WatchInterval:        getEnvDuration("FILEDEPOT_WATCH_INTERVAL", 2*time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("FILEDEPOT_LOG_LEVEL", "info"))),
		MetricsEnabled:     getEnvBool("FILEDEPOT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("FILEDEPOT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("FILEDEPOT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("FILEDEPOT_OTEL_SERVICE_NAME", "filedepot"),
		OTelServiceVersion: getEnv("FILEDEPOT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("FILEDEPOT_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.BlobBackend {
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 blob backend")
		}
	case "memory":
		// development only, nothing to validate
	default:
		return fmt.Errorf("invalid blob backend: %s (must be s3 or memory)", c.BlobBackend)
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
