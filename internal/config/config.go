// Package config provides configuration management for the wearable sync service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wearsync/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Provider ProviderConfig
	Backfill BackfillConfig
	Sync     SyncConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ProviderConfig holds wearable provider API configuration
type ProviderConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	RequestTimeout    time.Duration
}

// BackfillConfig holds push-completion backfill configuration
type BackfillConfig struct {
	// UnitSequence is the per-window data type order, least to most
	// rate-sensitive.
	UnitSequence []types.DataType

	// WindowSize is the span of one backfill window.
	WindowSize time.Duration

	// TargetWindows is how many windows cover the full history target.
	TargetWindows int

	// LockTTL bounds how long a dead driver can hold a session lock.
	LockTTL time.Duration

	// SessionTTL is the retention of all backfill session keys.
	SessionTTL time.Duration

	// StuckThreshold is how long a locked session may show no unit
	// activity before the reclaimer treats it as stuck. Must exceed the
	// provider's worst-case callback latency.
	StuckThreshold time.Duration

	// MaxAttempts bounds reclaimer-driven recovery before the session is
	// marked permanently failed.
	MaxAttempts int

	// TriggerPacing is the fixed in-invocation delay before an outbound
	// trigger, protecting the provider's aggregate rate limit.
	TriggerPacing time.Duration

	// SweepInterval is the reclaimer period.
	SweepInterval time.Duration

	// ResumeGuardTTL is how long an operator-triggered resume shields a
	// session from the reclaimer.
	ResumeGuardTTL time.Duration
}

// SyncConfig holds pull-chunk sync configuration
type SyncConfig struct {
	// UnitSequence is the data type order for chunked pulls.
	UnitSequence []types.DataType

	// ChunkSize is the span of one synchronous pull. The provider rejects
	// ranges above 24h.
	ChunkSize time.Duration

	// TargetDays is how many chunks per data type cover the sync target.
	TargetDays int

	// SessionTTL is the retention of all sync session keys.
	SessionTTL time.Duration

	// ChunkDelay is the inter-chunk delay for summary data types.
	ChunkDelay time.Duration

	// IntradayChunkDelay is the inter-chunk delay for sample series types.
	IntradayChunkDelay time.Duration

	// RateLimitBackoff is the fixed retry delay after a provider 429.
	RateLimitBackoff time.Duration
}

// WorkerConfig holds task runtime configuration
type WorkerConfig struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "wearsync"),
				User:           getEnv("POSTGRES_USER", "wearsync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "wearsync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Provider: ProviderConfig{
			BaseURL:           getEnv("PROVIDER_BASE_URL", "https://api.pulse.example.com/v2"),
			RequestsPerSecond: getEnvAsFloat("PROVIDER_REQUESTS_PER_SECOND", 3),
			RequestTimeout:    getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Backfill: BackfillConfig{
			UnitSequence:   loadUnitSequence("BACKFILL_UNIT_SEQUENCE", types.DefaultBackfillSequence),
			WindowSize:     getEnvAsDuration("BACKFILL_WINDOW_SIZE", 24*time.Hour),
			TargetWindows:  getEnvAsInt("BACKFILL_TARGET_WINDOWS", 30),
			LockTTL:        getEnvAsDuration("BACKFILL_LOCK_TTL", 6*time.Hour),
			SessionTTL:     getEnvAsDuration("BACKFILL_SESSION_TTL", 24*time.Hour),
			StuckThreshold: getEnvAsDuration("BACKFILL_STUCK_THRESHOLD", 45*time.Minute),
			MaxAttempts:    getEnvAsInt("BACKFILL_MAX_ATTEMPTS", 3),
			TriggerPacing:  getEnvAsDuration("BACKFILL_TRIGGER_PACING", 300*time.Millisecond),
			SweepInterval:  getEnvAsDuration("BACKFILL_SWEEP_INTERVAL", 5*time.Minute),
			ResumeGuardTTL: getEnvAsDuration("BACKFILL_RESUME_GUARD_TTL", 10*time.Minute),
		},
		Sync: SyncConfig{
			UnitSequence:       loadUnitSequence("SYNC_UNIT_SEQUENCE", types.DefaultPullSequence),
			ChunkSize:          getEnvAsDuration("SYNC_CHUNK_SIZE", 24*time.Hour),
			TargetDays:         getEnvAsInt("SYNC_TARGET_DAYS", 7),
			SessionTTL:         getEnvAsDuration("SYNC_SESSION_TTL", 7*24*time.Hour),
			ChunkDelay:         getEnvAsDuration("SYNC_CHUNK_DELAY", 30*time.Second),
			IntradayChunkDelay: getEnvAsDuration("SYNC_INTRADAY_CHUNK_DELAY", 5*time.Minute),
			RateLimitBackoff:   getEnvAsDuration("SYNC_RATE_LIMIT_BACKOFF", 10*time.Minute),
		},
		Worker: WorkerConfig{
			Workers:     getEnvAsInt("TASK_WORKERS", 8),
			MaxAttempts: getEnvAsInt("TASK_MAX_ATTEMPTS", 5),
			BaseBackoff: getEnvAsDuration("TASK_BASE_BACKOFF", 1*time.Second),
			MaxBackoff:  getEnvAsDuration("TASK_MAX_BACKOFF", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// loadUnitSequence parses a comma-separated data type list, falling back to
// the given default when unset.
func loadUnitSequence(key string, fallback []types.DataType) []types.DataType {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}

	var sequence []types.DataType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sequence = append(sequence, types.DataType(part))
	}

	if len(sequence) == 0 {
		return fallback
	}
	return sequence
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
