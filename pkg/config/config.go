// Package config loads store configuration from files and environment
// variables with the precedence ENV > file > defaults.
package config

import (
	"time"

	"github.com/nexlayer/nexlayer/pkg/resilience"
)

// Backend type constants
const (
	// BackendTypeMemory keeps records in process memory
	BackendTypeMemory = "memory"
	// BackendTypePostgres stores records in a PostgreSQL table
	BackendTypePostgres = "postgres"
	// BackendTypeMongoDB stores records in a MongoDB collection
	BackendTypeMongoDB = "mongodb"
)

// Cache type constants
const (
	// CacheTypeMemory keeps the local cache in process memory
	CacheTypeMemory = "memory"
	// CacheTypeRedis keeps the local cache in Redis
	CacheTypeRedis = "redis"
)

// Queue type constants
const (
	// QueueTypeMemory keeps pending changes in process memory
	QueueTypeMemory = "memory"
	// QueueTypeRedis persists pending changes in a Redis list
	QueueTypeRedis = "redis"
)

// Config is the root configuration structure for the data access layer
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StoreConfig selects the default policies applied to reads and writes
type StoreConfig struct {
	FetchPolicy            string        `mapstructure:"fetch_policy"`
	WritePolicy            string        `mapstructure:"write_policy"`
	StaleDuration          time.Duration `mapstructure:"stale_duration"`
	RevalidateContinuously bool          `mapstructure:"revalidate_continuously"`
}

// BackendConfig configures the network source of record
type BackendConfig struct {
	Type             string        `mapstructure:"type"`
	URL              string        `mapstructure:"url"`
	Database         string        `mapstructure:"database"`
	Collection       string        `mapstructure:"collection"`
	Table            string        `mapstructure:"table"`
	IDColumn         string        `mapstructure:"id_column"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// CacheConfig configures the local cache source
type CacheConfig struct {
	Type             string        `mapstructure:"type"`
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	TTL              time.Duration `mapstructure:"ttl"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// QueueConfig configures where pending offline changes are held
type QueueConfig struct {
	Type string `mapstructure:"type"`
	URL  string `mapstructure:"url"`
	Key  string `mapstructure:"key"`
}

// RetryConfig configures the network retry schedule
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
}

// Schedule converts the section into the resilience retry configuration.
func (c RetryConfig) Schedule() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    c.MaxAttempts,
		InitialDelay:   c.InitialDelay,
		MaxDelay:       c.MaxDelay,
		Multiplier:     c.Multiplier,
		JitterFraction: c.JitterFraction,
	}
}

// BreakerConfig configures the network circuit breaker
type BreakerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// Build returns the configured breaker, or nil when disabled.
func (c BreakerConfig) Build() *resilience.Breaker {
	if !c.Enabled {
		return nil
	}
	return resilience.NewBreaker(c.Threshold, c.Cooldown)
}

// ConflictConfig selects the write conflict resolution strategy
type ConflictConfig struct {
	Strategy       string `mapstructure:"strategy"`
	TimestampField string `mapstructure:"timestamp_field"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration used when neither the file nor
// the environment overrides a key.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			FetchPolicy:   "cache_first",
			WritePolicy:   "cache_and_network",
			StaleDuration: 5 * time.Minute,
		},
		Backend: BackendConfig{
			Type:             BackendTypeMemory,
			IDColumn:         "id",
			OperationTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Type:             CacheTypeMemory,
			Prefix:           "nexlayer",
			OperationTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Type: QueueTypeMemory,
			Key:  "nexlayer:pending",
		},
		Retry: RetryConfig{
			MaxAttempts:    resilience.DefaultRetryMaxAttempts,
			InitialDelay:   resilience.DefaultRetryInitialDelay,
			MaxDelay:       resilience.DefaultRetryMaxDelay,
			Multiplier:     resilience.DefaultRetryMultiplier,
			JitterFraction: resilience.DefaultRetryJitterFraction,
		},
		Breaker: BreakerConfig{
			Enabled:   true,
			Threshold: 5,
			Cooldown:  30 * time.Second,
		},
		Conflict: ConflictConfig{
			Strategy:       "server_wins",
			TimestampField: "updated_at",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
