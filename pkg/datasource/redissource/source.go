// Package redissource implements a Redis-backed cache source. Records are
// stored as JSON under a key prefix with a sibling timestamp key per
// record, so the staleness check works across process restarts. Queries
// are evaluated client-side through the filter evaluator.
package redissource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/query"
)

const (
	defaultPrefix           = "nexlayer"
	defaultOperationTimeout = 5 * time.Second
	scanBatch               = 200
)

// Config holds the source's Redis connection settings.
type Config struct {
	URL              string
	Prefix           string
	MaxConns         int
	OperationTimeout time.Duration
	// TTL expires records independently of the policy engine's staleness
	// window. Zero keeps records until deleted.
	TTL time.Duration
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
}

// Source is a DataSource backed by Redis.
type Source[T any, ID comparable] struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	idFn     datasource.IDFunc[T, ID]
	accessor query.FieldAccessor[T]
	log      logger.Logger
}

// New connects to Redis, verifies the connection, and builds a source.
func New[T any, ID comparable](cfg Config, idFn datasource.IDFunc[T, ID], accessor query.FieldAccessor[T], log logger.Logger) (*Source[T, ID], error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if idFn == nil {
		return nil, fmt.Errorf("id function is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	if log == nil {
		log = logger.NewNop()
	}
	log.Info("redis source ready", "prefix", cfg.Prefix, "ttl", cfg.TTL)

	return &Source[T, ID]{
		client:   client,
		prefix:   cfg.Prefix,
		ttl:      cfg.TTL,
		idFn:     idFn,
		accessor: accessor,
		log:      log,
	}, nil
}

// NewFromClient wraps an existing client. The caller keeps ownership of
// the client's lifecycle.
func NewFromClient[T any, ID comparable](client *redis.Client, prefix string, idFn datasource.IDFunc[T, ID], accessor query.FieldAccessor[T]) *Source[T, ID] {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultPrefix
	}
	return &Source[T, ID]{
		client:   client,
		prefix:   prefix,
		idFn:     idFn,
		accessor: accessor,
		log:      logger.NewNop(),
	}
}

// Close releases the connection pool.
func (s *Source[T, ID]) Close() error {
	return s.client.Close()
}

func (s *Source[T, ID]) recordKey(id ID) string {
	return fmt.Sprintf("%s:rec:%v", s.prefix, id)
}

func (s *Source[T, ID]) timeKey(id ID) string {
	return fmt.Sprintf("%s:ts:%v", s.prefix, id)
}

// Get returns the record stored under id, or ErrNotFound.
func (s *Source[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	raw, err := s.client.Get(ctx, s.recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return zero, datasource.ErrNotFound
	}
	if err != nil {
		return zero, datasource.NewNetworkError("redis get", true, err)
	}
	var record T
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return zero, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}

// GetAll scans the record prefix and evaluates the query client-side.
func (s *Source[T, ID]) GetAll(ctx context.Context, q query.Query) ([]T, error) {
	pattern := s.prefix + ":rec:*"
	var all []T

	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == scanBatch {
			records, err := s.fetchKeys(ctx, keys)
			if err != nil {
				return nil, err
			}
			all = append(all, records...)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return nil, datasource.NewNetworkError("redis scan", true, err)
	}
	if len(keys) > 0 {
		records, err := s.fetchKeys(ctx, keys)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}

	return query.Apply(all, q, s.accessor).Items, nil
}

func (s *Source[T, ID]) fetchKeys(ctx context.Context, keys []string) ([]T, error) {
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, datasource.NewNetworkError("redis mget", true, err)
	}
	records := make([]T, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// Key expired between scan and fetch.
			continue
		}
		var record T
		if err := json.Unmarshal([]byte(str), &record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Save stores the record and its write time.
func (s *Source[T, ID]) Save(ctx context.Context, record T) error {
	id := s.idFn(record)
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(id), raw, s.ttl)
	pipe.Set(ctx, s.timeKey(id), time.Now().UTC().Format(time.RFC3339Nano), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return datasource.NewNetworkError("redis set", true, err)
	}
	return nil
}

// Delete removes the record. Deleting an absent record is a no-op.
func (s *Source[T, ID]) Delete(ctx context.Context, id ID) error {
	if err := s.client.Del(ctx, s.recordKey(id), s.timeKey(id)).Err(); err != nil {
		return datasource.NewNetworkError("redis del", true, err)
	}
	return nil
}

// WrittenAt reports when the record was last saved.
func (s *Source[T, ID]) WrittenAt(ctx context.Context, id ID) (time.Time, bool) {
	raw, err := s.client.Get(ctx, s.timeKey(id)).Result()
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.log.Warn("unparseable write timestamp", "key", s.timeKey(id), "value", raw)
		return time.Time{}, false
	}
	return ts, true
}

// Capabilities advertises an offline-capable source without native
// filtering.
func (s *Source[T, ID]) Capabilities() datasource.Capabilities {
	return datasource.Capabilities{SupportsOffline: true}
}
