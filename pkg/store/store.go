// Package store is the uniform record API. A Store pairs a local cache
// source with a network source behind one policy engine, and adds reactive
// watches on top of it. Callers pick fetch and write behavior per call or
// fall back to the store's configured defaults.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/notify"
	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/policy"
	"github.com/nexlayer/nexlayer/pkg/query"
	"github.com/nexlayer/nexlayer/pkg/resilience"
)

// Config assembles a Store. Cache, Network, and IDFunc are required.
type Config[T any, ID comparable] struct {
	Cache   datasource.DataSource[T, ID]
	Network datasource.DataSource[T, ID]
	IDFunc  datasource.IDFunc[T, ID]

	// Accessor resolves record fields for query evaluation and conflict
	// timestamps. Defaults to reflection over struct fields and json tags.
	Accessor query.FieldAccessor[T]

	// Codec serializes records for the pending queue. Defaults to JSON.
	Codec policy.Codec[T, ID]

	// FetchPolicy is the default read strategy. Defaults to CacheFirst.
	FetchPolicy policy.FetchPolicy
	// WritePolicy is the default write strategy. Defaults to
	// WriteCacheAndNetwork.
	WritePolicy policy.WritePolicy

	// StaleDuration bounds how old a cached record may be before
	// StaleWhileRevalidate refetches it. Defaults to five minutes.
	StaleDuration time.Duration

	// RevalidateContinuously re-runs each active watch's read every
	// StaleDuration so long-lived watchers keep converging on the network
	// state. Off by default; watches still re-emit on every local change.
	RevalidateContinuously bool

	Retry    resilience.RetryConfig
	Breaker  *resilience.Breaker
	Conflict policy.ConflictConfig[T]
	Queue    policy.PendingQueue
	Logger   logger.Logger
	Metrics  *policy.Metrics
}

// Store is the uniform data-access surface. All methods are safe for
// concurrent use.
type Store[T any, ID comparable] struct {
	engine *policy.Engine[T, ID]
	log    logger.Logger

	fetchPolicy  policy.FetchPolicy
	writePolicy  policy.WritePolicy
	revalidate   bool
	staleFor     time.Duration
	watches      *watchSet[T, ID]
	closeWatches chan struct{}
}

// New validates the configuration and builds a store.
func New[T any, ID comparable](cfg Config[T, ID]) (*Store[T, ID], error) {
	if cfg.IDFunc == nil {
		return nil, errors.New("id function is required")
	}
	if cfg.Accessor == nil {
		cfg.Accessor = query.StructAccessor[T]()
	}
	if cfg.Codec == nil {
		cfg.Codec = policy.NewJSONCodec[T, ID]()
	}
	if cfg.FetchPolicy == "" {
		cfg.FetchPolicy = policy.CacheFirst
	} else if _, err := policy.ParseFetchPolicy(string(cfg.FetchPolicy)); err != nil {
		return nil, err
	}
	if cfg.WritePolicy == "" {
		cfg.WritePolicy = policy.WriteCacheAndNetwork
	} else if _, err := policy.ParseWritePolicy(string(cfg.WritePolicy)); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.StaleDuration <= 0 {
		cfg.StaleDuration = policy.DefaultStaleDuration
	}

	s := &Store[T, ID]{
		log:          cfg.Logger,
		fetchPolicy:  cfg.FetchPolicy,
		writePolicy:  cfg.WritePolicy,
		revalidate:   cfg.RevalidateContinuously,
		staleFor:     cfg.StaleDuration,
		watches:      newWatchSet[T, ID](),
		closeWatches: make(chan struct{}),
	}

	engine, err := policy.New(policy.Config[T, ID]{
		Cache:         cfg.Cache,
		Network:       cfg.Network,
		IDFunc:        cfg.IDFunc,
		Codec:         cfg.Codec,
		Accessor:      cfg.Accessor,
		Logger:        cfg.Logger,
		Retry:         cfg.Retry,
		Breaker:       cfg.Breaker,
		StaleDuration: cfg.StaleDuration,
		Conflict:      cfg.Conflict,
		Queue:         cfg.Queue,
		Metrics:       cfg.Metrics,
		OnUpdate:      s.fanOut,
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// Option overrides one call's policies.
type Option func(*callOptions)

type callOptions struct {
	fetch policy.FetchPolicy
	write policy.WritePolicy
}

// WithFetchPolicy overrides the read strategy for one call.
func WithFetchPolicy(p policy.FetchPolicy) Option {
	return func(o *callOptions) { o.fetch = p }
}

// WithWritePolicy overrides the write strategy for one call.
func WithWritePolicy(p policy.WritePolicy) Option {
	return func(o *callOptions) { o.write = p }
}

func (s *Store[T, ID]) options(opts []Option) callOptions {
	o := callOptions{fetch: s.fetchPolicy, write: s.writePolicy}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get reads one record under the store's fetch policy (or a per-call
// override). Absent records are reported as datasource.ErrNotFound.
func (s *Store[T, ID]) Get(ctx context.Context, id ID, opts ...Option) (T, error) {
	return s.engine.Get(ctx, id, s.options(opts).fetch)
}

// GetAll reads records matching the query.
func (s *Store[T, ID]) GetAll(ctx context.Context, q query.Query, opts ...Option) ([]T, error) {
	return s.engine.GetAll(ctx, q, s.options(opts).fetch)
}

// Save writes one record under the store's write policy (or a per-call
// override).
func (s *Store[T, ID]) Save(ctx context.Context, record T, opts ...Option) error {
	return s.engine.Save(ctx, record, s.options(opts).write)
}

// Delete removes one record.
func (s *Store[T, ID]) Delete(ctx context.Context, id ID, opts ...Option) error {
	return s.engine.Delete(ctx, id, s.options(opts).write)
}

// SyncStatus reports the store's current synchronization state.
func (s *Store[T, ID]) SyncStatus() policy.SyncStatus {
	return s.engine.Status()
}

// SyncStatusStream streams status transitions, starting with the current
// state. Close the subscription when done.
func (s *Store[T, ID]) SyncStatusStream() *notify.Subscription[policy.SyncStatus] {
	return s.engine.StatusTracker().Subscribe()
}

// PendingChangesCount reports how many writes await network confirmation.
func (s *Store[T, ID]) PendingChangesCount(ctx context.Context) (int, error) {
	return s.engine.PendingCount(ctx)
}

// PendingChanges lists the parked writes in replay order.
func (s *Store[T, ID]) PendingChanges(ctx context.Context) ([]policy.PendingChange, error) {
	return s.engine.PendingChanges(ctx)
}

// Flush replays the pending queue against the network.
func (s *Store[T, ID]) Flush(ctx context.Context) error {
	return s.engine.Flush(ctx)
}

// CancelPending drops one parked change without replaying it.
func (s *Store[T, ID]) CancelPending(ctx context.Context, changeID string) error {
	return s.engine.CancelPending(ctx, changeID)
}

// Pause suspends sync passes until Resume.
func (s *Store[T, ID]) Pause(ctx context.Context) { s.engine.Pause(ctx) }

// Resume lifts a pause.
func (s *Store[T, ID]) Resume(ctx context.Context) { s.engine.Resume(ctx) }

// Close stops revalidation, tears down every watch, and waits for the
// engine's background work. The store must not be used afterwards.
func (s *Store[T, ID]) Close() {
	close(s.closeWatches)
	s.watches.closeAll()
	s.engine.Close()
}
