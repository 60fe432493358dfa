package policy

import (
	"context"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/query"
)

// Get reads one record under the given fetch policy. An absent record is
// reported as datasource.ErrNotFound under every policy; per contract that
// sentinel means "not found", not a failure.
func (e *Engine[T, ID]) Get(ctx context.Context, id ID, policy FetchPolicy) (T, error) {
	var zero T

	switch policy {
	case CacheOnly:
		return e.cache.Get(ctx, id)

	case NetworkOnly:
		// Cache is neither read nor written.
		return e.netGet(ctx, id, policy)

	case CacheFirst:
		if cached, err := e.cache.Get(ctx, id); err == nil {
			return cached, nil
		} else if !datasource.IsNotFound(err) {
			return zero, err
		}
		fetched, err := e.netGet(ctx, id, policy)
		if err != nil {
			return zero, err
		}
		e.writeThrough(ctx, fetched)
		return fetched, nil

	case NetworkFirst:
		fetched, err := e.netGet(ctx, id, policy)
		if err == nil {
			e.writeThrough(ctx, fetched)
			return fetched, nil
		}
		if datasource.IsNotFound(err) {
			return zero, err
		}
		cached, cacheErr := e.cache.Get(ctx, id)
		if cacheErr == nil {
			e.log.Warn("network read failed, serving cached value",
				"key", e.codec.KeyString(id), "error", err)
			return cached, nil
		}
		// Cache absent too: the network failure wins.
		return zero, err

	case CacheAndNetwork:
		cached, cacheErr := e.cache.Get(ctx, id)
		e.refreshAsync(ctx, id, policy)
		if cacheErr == nil {
			return cached, nil
		}
		if !datasource.IsNotFound(cacheErr) {
			return zero, cacheErr
		}
		// Nothing to emit from cache: block on the in-flight refresh.
		fetched, err := e.netGet(ctx, id, policy)
		if err != nil {
			return zero, err
		}
		return fetched, nil

	case StaleWhileRevalidate:
		cached, cacheErr := e.cache.Get(ctx, id)
		if cacheErr == nil && e.fresh(ctx, id) {
			return cached, nil
		}
		// Stale or absent: revalidate for the next read without blocking.
		e.refreshAsync(ctx, id, policy)
		if cacheErr != nil {
			return zero, cacheErr
		}
		return cached, nil

	default:
		return zero, invalidPolicy(string(policy))
	}
}

// GetAll reads records matching the query under the given fetch policy.
func (e *Engine[T, ID]) GetAll(ctx context.Context, q query.Query, policy FetchPolicy) ([]T, error) {
	switch policy {
	case CacheOnly:
		return e.cache.GetAll(ctx, q)

	case NetworkOnly:
		return e.netGetAll(ctx, q, policy)

	case CacheFirst:
		cached, err := e.cache.GetAll(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(cached) > 0 {
			return cached, nil
		}
		fetched, err := e.netGetAll(ctx, q, policy)
		if err != nil {
			return nil, err
		}
		e.writeThroughAll(ctx, fetched)
		return fetched, nil

	case NetworkFirst:
		fetched, err := e.netGetAll(ctx, q, policy)
		if err == nil {
			e.writeThroughAll(ctx, fetched)
			return fetched, nil
		}
		cached, cacheErr := e.cache.GetAll(ctx, q)
		if cacheErr == nil && len(cached) > 0 {
			e.log.Warn("network list read failed, serving cached results", "error", err)
			return cached, nil
		}
		return nil, err

	case CacheAndNetwork:
		cached, cacheErr := e.cache.GetAll(ctx, q)
		e.refreshAllAsync(ctx, q, policy)
		if cacheErr != nil {
			return nil, cacheErr
		}
		if len(cached) > 0 {
			return cached, nil
		}
		return e.netGetAll(ctx, q, policy)

	case StaleWhileRevalidate:
		cached, cacheErr := e.cache.GetAll(ctx, q)
		e.refreshAllAsync(ctx, q, policy)
		if cacheErr != nil {
			return nil, cacheErr
		}
		return cached, nil

	default:
		return nil, invalidPolicy(string(policy))
	}
}

// fresh reports whether the cached record's age is inside the stale window.
// A cache source without age reporting is treated as always stale.
func (e *Engine[T, ID]) fresh(ctx context.Context, id ID) bool {
	reporter, ok := e.cache.(datasource.AgeReporter[ID])
	if !ok {
		return false
	}
	writtenAt, ok := reporter.WrittenAt(ctx, id)
	if !ok {
		return false
	}
	return time.Since(writtenAt) < e.staleFor
}

// refreshAsync revalidates one key in the background. The in-flight
// deduplication map collapses concurrent refreshes for the same key, and
// the caller's cancellation does not reach the refresh.
func (e *Engine[T, ID]) refreshAsync(ctx context.Context, id ID, policy FetchPolicy) {
	bgCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fetched, err := e.netGet(bgCtx, id, policy)
		if err != nil {
			if datasource.IsNotFound(err) {
				// The record is gone remotely; drop it locally too.
				e.evict(bgCtx, id)
				return
			}
			e.log.Warn("background revalidation failed",
				"key", e.codec.KeyString(id), "policy", string(policy), "error", err)
			return
		}
		e.writeThrough(bgCtx, fetched)
	}()
}

// refreshAllAsync revalidates a query in the background.
func (e *Engine[T, ID]) refreshAllAsync(ctx context.Context, q query.Query, policy FetchPolicy) {
	bgCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fetched, err := e.netGetAll(bgCtx, q, policy)
		if err != nil {
			e.log.Warn("background list revalidation failed", "policy", string(policy), "error", err)
			return
		}
		e.writeThroughAll(bgCtx, fetched)
	}()
}

// writeThrough stores a network result in the cache and notifies watchers.
// Cache write failures are surfaced in the log but never fail the read that
// already has its value.
func (e *Engine[T, ID]) writeThrough(ctx context.Context, record T) {
	id := e.idFn(record)
	if err := e.cache.Save(ctx, record); err != nil {
		e.log.Warn("cache write-through failed", "key", e.codec.KeyString(id), "error", err)
		return
	}
	e.notifyUpdate(id, record, true)
}

func (e *Engine[T, ID]) writeThroughAll(ctx context.Context, records []T) {
	for _, record := range records {
		e.writeThrough(ctx, record)
	}
}

// evict removes a record from the cache and notifies watchers.
func (e *Engine[T, ID]) evict(ctx context.Context, id ID) {
	if err := e.cache.Delete(ctx, id); err != nil {
		e.log.Warn("cache eviction failed", "key", e.codec.KeyString(id), "error", err)
		return
	}
	var zero T
	e.notifyUpdate(id, zero, false)
}
