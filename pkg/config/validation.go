package config

import (
	"fmt"

	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/policy"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := policy.ParseFetchPolicy(c.Store.FetchPolicy); err != nil {
		return fmt.Errorf("store.fetch_policy: %w", err)
	}
	if _, err := policy.ParseWritePolicy(c.Store.WritePolicy); err != nil {
		return fmt.Errorf("store.write_policy: %w", err)
	}
	if c.Store.StaleDuration < 0 {
		return fmt.Errorf("store.stale_duration must not be negative")
	}

	switch c.Backend.Type {
	case BackendTypeMemory:
	case BackendTypePostgres:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required when backend.type is postgres")
		}
		if c.Backend.Table == "" {
			return fmt.Errorf("backend.table is required when backend.type is postgres")
		}
	case BackendTypeMongoDB:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required when backend.type is mongodb")
		}
		if c.Backend.Database == "" {
			return fmt.Errorf("backend.database is required when backend.type is mongodb")
		}
		if c.Backend.Collection == "" {
			return fmt.Errorf("backend.collection is required when backend.type is mongodb")
		}
	default:
		return fmt.Errorf("unknown backend.type %q", c.Backend.Type)
	}

	switch c.Cache.Type {
	case CacheTypeMemory:
	case CacheTypeRedis:
		if c.Cache.URL == "" {
			return fmt.Errorf("cache.url is required when cache.type is redis")
		}
	default:
		return fmt.Errorf("unknown cache.type %q", c.Cache.Type)
	}

	switch c.Queue.Type {
	case QueueTypeMemory:
	case QueueTypeRedis:
		if c.Queue.URL == "" {
			return fmt.Errorf("queue.url is required when queue.type is redis")
		}
	default:
		return fmt.Errorf("unknown queue.type %q", c.Queue.Type)
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("retry.jitter_fraction must be within [0, 1]")
	}

	if c.Breaker.Enabled {
		if c.Breaker.Threshold <= 0 {
			return fmt.Errorf("breaker.threshold must be positive when the breaker is enabled")
		}
		if c.Breaker.Cooldown <= 0 {
			return fmt.Errorf("breaker.cooldown must be positive when the breaker is enabled")
		}
	}

	switch policy.ConflictStrategy(c.Conflict.Strategy) {
	case policy.ServerWins, policy.ClientWins, policy.LatestWins, policy.MergeFields, policy.Custom:
	default:
		return fmt.Errorf("unknown conflict.strategy %q", c.Conflict.Strategy)
	}

	if _, err := logger.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := logger.ParseLogFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}

	return nil
}
