package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "NEXLAYER")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the loaded configuration
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Store policies
	v.BindEnv("store.fetch_policy", l.prefixedEnv("STORE_FETCH_POLICY"))
	v.BindEnv("store.write_policy", l.prefixedEnv("STORE_WRITE_POLICY"))
	v.BindEnv("store.stale_duration", l.prefixedEnv("STORE_STALE_DURATION"))
	v.BindEnv("store.revalidate_continuously", l.prefixedEnv("STORE_REVALIDATE_CONTINUOUSLY"))

	// Backend
	v.BindEnv("backend.type", l.prefixedEnv("BACKEND_TYPE"))
	v.BindEnv("backend.url", l.prefixedEnv("BACKEND_URL"))
	v.BindEnv("backend.database", l.prefixedEnv("BACKEND_DATABASE"))
	v.BindEnv("backend.collection", l.prefixedEnv("BACKEND_COLLECTION"))
	v.BindEnv("backend.table", l.prefixedEnv("BACKEND_TABLE"))
	v.BindEnv("backend.id_column", l.prefixedEnv("BACKEND_ID_COLUMN"))
	v.BindEnv("backend.max_open_conns", l.prefixedEnv("BACKEND_MAX_OPEN_CONNS"))
	v.BindEnv("backend.max_idle_conns", l.prefixedEnv("BACKEND_MAX_IDLE_CONNS"))
	v.BindEnv("backend.conn_max_lifetime", l.prefixedEnv("BACKEND_CONN_MAX_LIFETIME"))
	v.BindEnv("backend.operation_timeout", l.prefixedEnv("BACKEND_OPERATION_TIMEOUT"))

	// Cache
	v.BindEnv("cache.type", l.prefixedEnv("CACHE_TYPE"))
	v.BindEnv("cache.url", l.prefixedEnv("CACHE_URL"))
	v.BindEnv("cache.prefix", l.prefixedEnv("CACHE_PREFIX"))
	v.BindEnv("cache.ttl", l.prefixedEnv("CACHE_TTL"))
	v.BindEnv("cache.max_conns", l.prefixedEnv("CACHE_MAX_CONNS"))
	v.BindEnv("cache.operation_timeout", l.prefixedEnv("CACHE_OPERATION_TIMEOUT"))

	// Queue
	v.BindEnv("queue.type", l.prefixedEnv("QUEUE_TYPE"))
	v.BindEnv("queue.url", l.prefixedEnv("QUEUE_URL"))
	v.BindEnv("queue.key", l.prefixedEnv("QUEUE_KEY"))

	// Retry
	v.BindEnv("retry.max_attempts", l.prefixedEnv("RETRY_MAX_ATTEMPTS"))
	v.BindEnv("retry.initial_delay", l.prefixedEnv("RETRY_INITIAL_DELAY"))
	v.BindEnv("retry.max_delay", l.prefixedEnv("RETRY_MAX_DELAY"))
	v.BindEnv("retry.multiplier", l.prefixedEnv("RETRY_MULTIPLIER"))
	v.BindEnv("retry.jitter_fraction", l.prefixedEnv("RETRY_JITTER_FRACTION"))

	// Breaker
	v.BindEnv("breaker.enabled", l.prefixedEnv("BREAKER_ENABLED"))
	v.BindEnv("breaker.threshold", l.prefixedEnv("BREAKER_THRESHOLD"))
	v.BindEnv("breaker.cooldown", l.prefixedEnv("BREAKER_COOLDOWN"))

	// Conflict
	v.BindEnv("conflict.strategy", l.prefixedEnv("CONFLICT_STRATEGY"))
	v.BindEnv("conflict.timestamp_field", l.prefixedEnv("CONFLICT_TIMESTAMP_FIELD"))

	// Logging
	v.BindEnv("logging.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("logging.format", l.prefixedEnv("LOG_FORMAT"))
}

// prefixedEnv returns the environment variable name with the loader prefix
func (l *ViperLoader) prefixedEnv(name string) string {
	if l.envPrefix == "" {
		return name
	}
	return strings.ToUpper(l.envPrefix) + "_" + name
}

// setDefaults registers defaults so every key exists before unmarshal
func (l *ViperLoader) setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("store.fetch_policy", d.Store.FetchPolicy)
	v.SetDefault("store.write_policy", d.Store.WritePolicy)
	v.SetDefault("store.stale_duration", d.Store.StaleDuration)
	v.SetDefault("store.revalidate_continuously", d.Store.RevalidateContinuously)

	v.SetDefault("backend.type", d.Backend.Type)
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.database", d.Backend.Database)
	v.SetDefault("backend.collection", d.Backend.Collection)
	v.SetDefault("backend.table", d.Backend.Table)
	v.SetDefault("backend.id_column", d.Backend.IDColumn)
	v.SetDefault("backend.max_open_conns", d.Backend.MaxOpenConns)
	v.SetDefault("backend.max_idle_conns", d.Backend.MaxIdleConns)
	v.SetDefault("backend.conn_max_lifetime", d.Backend.ConnMaxLifetime)
	v.SetDefault("backend.operation_timeout", d.Backend.OperationTimeout)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.url", d.Cache.URL)
	v.SetDefault("cache.prefix", d.Cache.Prefix)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_conns", d.Cache.MaxConns)
	v.SetDefault("cache.operation_timeout", d.Cache.OperationTimeout)

	v.SetDefault("queue.type", d.Queue.Type)
	v.SetDefault("queue.url", d.Queue.URL)
	v.SetDefault("queue.key", d.Queue.Key)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.jitter_fraction", d.Retry.JitterFraction)

	v.SetDefault("breaker.enabled", d.Breaker.Enabled)
	v.SetDefault("breaker.threshold", d.Breaker.Threshold)
	v.SetDefault("breaker.cooldown", d.Breaker.Cooldown)

	v.SetDefault("conflict.strategy", d.Conflict.Strategy)
	v.SetDefault("conflict.timestamp_field", d.Conflict.TimestampField)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
