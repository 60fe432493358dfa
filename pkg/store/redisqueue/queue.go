// Package redisqueue provides a Redis-backed pending queue so writes
// accepted while offline survive process restart. Changes live in a Redis
// list in FIFO order, one versioned JSON envelope per element.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/policy"
)

const (
	defaultKey              = "nexlayer:pending"
	defaultOperationTimeout = 5 * time.Second
	entryVersion            = 1
)

// Config holds the queue's Redis connection settings.
type Config struct {
	URL              string
	Key              string
	MaxConns         int
	OperationTimeout time.Duration
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Key) == "" {
		c.Key = defaultKey
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
}

// Queue is a policy.PendingQueue backed by a Redis list. One store owns
// one queue key; replay order is the list order.
type Queue struct {
	client *redis.Client
	key    string
	log    logger.Logger
}

type entry struct {
	Version int                  `json:"version"`
	Change  policy.PendingChange `json:"change"`
}

// New connects to Redis and verifies the connection.
func New(cfg Config, log logger.Logger) (*Queue, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
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

	log.Info("redis pending queue ready", "key", cfg.Key)
	return &Queue{client: client, key: cfg.Key, log: log}, nil
}

// NewFromClient wraps an existing client. The caller keeps ownership of
// the client's lifecycle.
func NewFromClient(client *redis.Client, key string, log logger.Logger) *Queue {
	if strings.TrimSpace(key) == "" {
		key = defaultKey
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Queue{client: client, key: key, log: log}
}

// Close releases the connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue appends a change to the tail of the list.
func (q *Queue) Enqueue(ctx context.Context, change policy.PendingChange) error {
	raw, err := json.Marshal(entry{Version: entryVersion, Change: change})
	if err != nil {
		return fmt.Errorf("encode pending change: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue pending change: %w", err)
	}
	return nil
}

// List returns all changes in FIFO order.
func (q *Queue) List(ctx context.Context) ([]policy.PendingChange, error) {
	raws, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	changes := make([]policy.PendingChange, 0, len(raws))
	for _, raw := range raws {
		change, err := decodeEntry([]byte(raw))
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// Update replaces the stored change with the same ID in place, keeping its
// position. Unknown IDs are ignored.
func (q *Queue) Update(ctx context.Context, change policy.PendingChange) error {
	raws, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("update pending change: %w", err)
	}
	for i, raw := range raws {
		existing, err := decodeEntry([]byte(raw))
		if err != nil {
			return err
		}
		if existing.ID != change.ID {
			continue
		}
		encoded, err := json.Marshal(entry{Version: entryVersion, Change: change})
		if err != nil {
			return fmt.Errorf("encode pending change: %w", err)
		}
		if err := q.client.LSet(ctx, q.key, int64(i), encoded).Err(); err != nil {
			return fmt.Errorf("update pending change: %w", err)
		}
		return nil
	}
	return nil
}

// Remove deletes the change with the given ID, keeping order.
func (q *Queue) Remove(ctx context.Context, id string) error {
	raws, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("remove pending change: %w", err)
	}
	for _, raw := range raws {
		existing, err := decodeEntry([]byte(raw))
		if err != nil {
			return err
		}
		if existing.ID != id {
			continue
		}
		if err := q.client.LRem(ctx, q.key, 1, raw).Err(); err != nil {
			return fmt.Errorf("remove pending change: %w", err)
		}
		return nil
	}
	return nil
}

// Len reports the queue depth.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("pending queue length: %w", err)
	}
	return int(n), nil
}

func decodeEntry(raw []byte) (policy.PendingChange, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return policy.PendingChange{}, fmt.Errorf("decode pending change: %w", err)
	}
	if e.Version != entryVersion {
		return policy.PendingChange{}, fmt.Errorf("decode pending change: unsupported version %d", e.Version)
	}
	return e.Change, nil
}
