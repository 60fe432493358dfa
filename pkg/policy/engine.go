package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/query"
	"github.com/nexlayer/nexlayer/pkg/resilience"
)

// FetchPolicy names a read strategy. The values are pure configuration;
// behavior lives entirely in the engine.
type FetchPolicy string

const (
	// CacheFirst serves from cache, falling back to the network on a miss.
	CacheFirst FetchPolicy = "cache_first"
	// NetworkFirst asks the network, falling back to cache on failure.
	NetworkFirst FetchPolicy = "network_first"
	// CacheAndNetwork emits the cache value immediately and refreshes from
	// the network in parallel.
	CacheAndNetwork FetchPolicy = "cache_and_network"
	// CacheOnly never contacts the network.
	CacheOnly FetchPolicy = "cache_only"
	// NetworkOnly neither reads nor writes the cache.
	NetworkOnly FetchPolicy = "network_only"
	// StaleWhileRevalidate serves cached data within its stale window and
	// revalidates in the background otherwise.
	StaleWhileRevalidate FetchPolicy = "stale_while_revalidate"
)

// ParseFetchPolicy converts a configuration string to a FetchPolicy.
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch FetchPolicy(s) {
	case CacheFirst, NetworkFirst, CacheAndNetwork, CacheOnly, NetworkOnly, StaleWhileRevalidate:
		return FetchPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid fetch policy: %s", s)
	}
}

// WritePolicy names a write strategy.
type WritePolicy string

const (
	// WriteCacheAndNetwork writes the cache optimistically and syncs the
	// network asynchronously, parking failures in the pending queue.
	WriteCacheAndNetwork WritePolicy = "cache_and_network"
	// WriteNetworkFirst confirms the network write before touching cache.
	WriteNetworkFirst WritePolicy = "network_first"
	// WriteCacheFirst writes the cache and enqueues a durable background
	// network write.
	WriteCacheFirst WritePolicy = "cache_first"
	// WriteCacheOnly never attempts the network.
	WriteCacheOnly WritePolicy = "cache_only"
)

// ParseWritePolicy converts a configuration string to a WritePolicy.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch WritePolicy(s) {
	case WriteCacheAndNetwork, WriteNetworkFirst, WriteCacheFirst, WriteCacheOnly:
		return WritePolicy(s), nil
	default:
		return "", fmt.Errorf("invalid write policy: %s", s)
	}
}

// DefaultStaleDuration is the stale window when the configuration names none.
const DefaultStaleDuration = 5 * time.Minute

// Config assembles an Engine. Cache, Network, IDFunc, and Codec are
// required; everything else has working defaults.
type Config[T any, ID comparable] struct {
	Cache   datasource.DataSource[T, ID]
	Network datasource.DataSource[T, ID]
	IDFunc  datasource.IDFunc[T, ID]
	Codec   Codec[T, ID]

	// Accessor resolves record fields for latest-wins conflicts and any
	// cache-side query evaluation the engine performs itself.
	Accessor query.FieldAccessor[T]

	Logger        logger.Logger
	Retry         resilience.RetryConfig
	Breaker       *resilience.Breaker
	StaleDuration time.Duration
	Conflict      ConflictConfig[T]
	Queue         PendingQueue
	Metrics       *Metrics

	// OnUpdate is invoked after every cache mutation the engine performs,
	// with found=false for deletions. The store layer uses it to re-emit
	// watch values.
	OnUpdate func(id ID, value T, found bool)
}

// Engine orchestrates cache and network sources according to fetch and
// write policies. It performs no locking of its own beyond the in-flight
// request deduplication and the per-key write lanes; the sources own their
// internal synchronization.
type Engine[T any, ID comparable] struct {
	cache    datasource.DataSource[T, ID]
	network  datasource.DataSource[T, ID]
	idFn     datasource.IDFunc[T, ID]
	codec    Codec[T, ID]
	accessor query.FieldAccessor[T]

	log      logger.Logger
	retryer  *resilience.Retryer
	breaker  *resilience.Breaker
	staleFor time.Duration
	conflict ConflictConfig[T]
	queue    PendingQueue
	status   *StatusTracker
	metrics  *Metrics
	onUpdate func(id ID, value T, found bool)

	inflightMu    sync.Mutex
	inflightGets  map[readKey[ID]]*inflight[T]
	inflightLists map[string]*inflight[[]T]

	lanes *keyLanes[ID]
	wg    sync.WaitGroup
}

type readKey[ID comparable] struct {
	id     ID
	policy FetchPolicy
}

type inflight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// New validates the configuration and builds an engine.
func New[T any, ID comparable](cfg Config[T, ID]) (*Engine[T, ID], error) {
	if cfg.Cache == nil {
		return nil, errors.New("cache source is required")
	}
	if cfg.Network == nil {
		return nil, errors.New("network source is required")
	}
	if cfg.IDFunc == nil {
		return nil, errors.New("id function is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("codec is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Queue == nil {
		cfg.Queue = NewMemoryQueue()
	}
	if cfg.StaleDuration <= 0 {
		cfg.StaleDuration = DefaultStaleDuration
	}

	return &Engine[T, ID]{
		cache:         cfg.Cache,
		network:       cfg.Network,
		idFn:          cfg.IDFunc,
		codec:         cfg.Codec,
		accessor:      cfg.Accessor,
		log:           cfg.Logger,
		retryer:       resilience.NewRetryer(cfg.Retry),
		breaker:       cfg.Breaker,
		staleFor:      cfg.StaleDuration,
		conflict:      cfg.Conflict,
		queue:         cfg.Queue,
		status:        NewStatusTracker(),
		metrics:       cfg.Metrics,
		onUpdate:      cfg.OnUpdate,
		inflightGets:  make(map[readKey[ID]]*inflight[T]),
		inflightLists: make(map[string]*inflight[[]T]),
		lanes:         newKeyLanes[ID](),
	}, nil
}

// Status returns the store-scoped sync status.
func (e *Engine[T, ID]) Status() SyncStatus { return e.status.Current() }

// StatusTracker exposes the status stream for the store layer.
func (e *Engine[T, ID]) StatusTracker() *StatusTracker { return e.status }

// PendingCount reports the pending queue depth.
func (e *Engine[T, ID]) PendingCount(ctx context.Context) (int, error) {
	return e.queue.Len(ctx)
}

// Pause suspends sync passes until Resume.
func (e *Engine[T, ID]) Pause(ctx context.Context) {
	n, _ := e.queue.Len(ctx)
	e.status.Apply(EventPaused, n)
}

// Resume lifts a pause.
func (e *Engine[T, ID]) Resume(ctx context.Context) {
	n, _ := e.queue.Len(ctx)
	e.status.Apply(EventResumed, n)
}

// Close waits for background work and tears down the status stream.
// It does not cancel accepted writes; they run to completion or failure.
func (e *Engine[T, ID]) Close() {
	e.wg.Wait()
	e.lanes.wait()
	e.status.Close()
}

// notifyUpdate fans a cache mutation out to the store layer.
func (e *Engine[T, ID]) notifyUpdate(id ID, value T, found bool) {
	if e.onUpdate != nil {
		e.onUpdate(id, value, found)
	}
}

// netGet runs a single-record network read through the breaker and the
// retry schedule, deduplicated by (id, policy).
func (e *Engine[T, ID]) netGet(ctx context.Context, id ID, policy FetchPolicy) (T, error) {
	key := readKey[ID]{id: id, policy: policy}

	e.inflightMu.Lock()
	if call, ok := e.inflightGets[key]; ok {
		e.inflightMu.Unlock()
		select {
		case <-call.done:
			return call.val, call.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	call := &inflight[T]{done: make(chan struct{})}
	e.inflightGets[key] = call
	e.inflightMu.Unlock()

	call.val, call.err = guarded(e, ctx, func(ctx context.Context) (T, error) {
		return e.network.Get(ctx, id)
	})

	e.inflightMu.Lock()
	delete(e.inflightGets, key)
	e.inflightMu.Unlock()
	close(call.done)

	return call.val, call.err
}

// netGetAll runs a list read through the breaker and retry schedule,
// deduplicated by (query fingerprint, policy).
func (e *Engine[T, ID]) netGetAll(ctx context.Context, q query.Query, policy FetchPolicy) ([]T, error) {
	key := string(policy) + "|" + q.Fingerprint()

	e.inflightMu.Lock()
	if call, ok := e.inflightLists[key]; ok {
		e.inflightMu.Unlock()
		select {
		case <-call.done:
			return call.val, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflight[[]T]{done: make(chan struct{})}
	e.inflightLists[key] = call
	e.inflightMu.Unlock()

	call.val, call.err = guarded(e, ctx, func(ctx context.Context) ([]T, error) {
		return e.network.GetAll(ctx, q)
	})

	e.inflightMu.Lock()
	delete(e.inflightLists, key)
	e.inflightMu.Unlock()
	close(call.done)

	return call.val, call.err
}

// guarded wraps a network operation with the circuit breaker and the retry
// schedule, counting retried attempts. It is a free function because Go
// methods cannot introduce the result type parameter.
func guarded[T any, ID comparable, V any](e *Engine[T, ID], ctx context.Context, op func(ctx context.Context) (V, error)) (V, error) {
	var out V
	attempts := 0
	err := e.retryer.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			e.metrics.incRetry()
		}
		run := func() error {
			var innerErr error
			out, innerErr = op(ctx)
			return innerErr
		}
		if e.breaker != nil {
			return e.breaker.Execute(run)
		}
		return run()
	})
	return out, err
}
