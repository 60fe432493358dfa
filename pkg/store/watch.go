package store

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/notify"
	"github.com/nexlayer/nexlayer/pkg/policy"
	"github.com/nexlayer/nexlayer/pkg/query"
)

// Event is one emission of a watched record. Found is false when the
// record was deleted or does not exist.
type Event[T any] struct {
	Value T
	Found bool
}

// Watch streams a record: the current value per the fetch policy first,
// then a new Event for every change the store observes (local writes,
// write-throughs, background revalidations, evictions). Close the
// subscription to stop; closing the store closes all watches.
func (s *Store[T, ID]) Watch(ctx context.Context, id ID, opts ...Option) (*notify.Subscription[Event[T]], error) {
	o := s.options(opts)
	b := s.watches.key(id)
	sub := b.Subscribe()

	val, err := s.engine.Get(ctx, id, o.fetch)
	switch {
	case err == nil:
		publishChanged(b, Event[T]{Value: val, Found: true})
	case datasource.IsNotFound(err):
		publishChanged(b, Event[T]{Found: false})
	default:
		sub.Close()
		return nil, err
	}

	if s.revalidate && s.watches.startKeyRevalidation(id) {
		s.revalidateLoop(ctx, func(revalCtx context.Context) {
			if _, err := s.engine.Get(revalCtx, id, policy.CacheAndNetwork); err != nil && !datasource.IsNotFound(err) {
				s.log.Debug("watch revalidation failed", "error", err)
			}
		})
	}
	return sub, nil
}

// WatchAll streams a query's result set: the current results first, then
// the re-evaluated results after every observed change.
func (s *Store[T, ID]) WatchAll(ctx context.Context, q query.Query, opts ...Option) (*notify.Subscription[[]T], error) {
	o := s.options(opts)
	b, fingerprint := s.watches.list(q)
	sub := b.Subscribe()

	records, err := s.engine.GetAll(ctx, q, o.fetch)
	if err != nil {
		sub.Close()
		return nil, err
	}
	publishChanged(b, records)

	if s.revalidate && s.watches.startListRevalidation(fingerprint) {
		s.revalidateLoop(ctx, func(revalCtx context.Context) {
			if _, err := s.engine.GetAll(revalCtx, q, policy.CacheAndNetwork); err != nil {
				s.log.Debug("watch revalidation failed", "error", err)
			}
		})
	}
	return sub, nil
}

// revalidateLoop re-runs fetch every stale window until the watcher's
// context or the store closes. Results reach watchers through fanOut.
func (s *Store[T, ID]) revalidateLoop(ctx context.Context, fetch func(context.Context)) {
	go func() {
		ticker := time.NewTicker(s.staleFor)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fetch(context.WithoutCancel(ctx))
			case <-ctx.Done():
				return
			case <-s.closeWatches:
				return
			}
		}
	}()
}

// fanOut is wired as the engine's OnUpdate hook. It runs on whatever
// goroutine performed the cache mutation, so it only re-reads the cache.
func (s *Store[T, ID]) fanOut(id ID, value T, found bool) {
	if b, ok := s.watches.lookupKey(id); ok {
		publishChanged(b, Event[T]{Value: value, Found: found})
	}

	for _, w := range s.watches.lists() {
		records, err := s.engine.GetAll(context.Background(), w.q, policy.CacheOnly)
		if err != nil {
			s.log.Debug("re-evaluating watched query failed", "error", err)
			continue
		}
		publishChanged(w.b, records)
	}
}

// publishChanged suppresses emissions identical to the broadcaster's
// current value, so policy reads that confirm the cached value do not wake
// every watcher.
func publishChanged[V any](b *notify.Broadcaster[V], next V) {
	if current, ok := b.Current(); ok && reflect.DeepEqual(current, next) {
		return
	}
	b.Publish(next)
}

type listWatch[T any] struct {
	q query.Query
	b *notify.Broadcaster[[]T]
}

// watchSet tracks the broadcasters behind active watches. Broadcasters are
// created on first watch of a key or query and live until the store closes.
type watchSet[T any, ID comparable] struct {
	mu         sync.Mutex
	keys       map[ID]*notify.Broadcaster[Event[T]]
	listsByFP  map[string]listWatch[T]
	revalKeys  map[ID]bool
	revalLists map[string]bool
}

func newWatchSet[T any, ID comparable]() *watchSet[T, ID] {
	return &watchSet[T, ID]{
		keys:       make(map[ID]*notify.Broadcaster[Event[T]]),
		listsByFP:  make(map[string]listWatch[T]),
		revalKeys:  make(map[ID]bool),
		revalLists: make(map[string]bool),
	}
}

func (w *watchSet[T, ID]) key(id ID) *notify.Broadcaster[Event[T]] {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.keys[id]
	if !ok {
		b = notify.NewBroadcaster[Event[T]]()
		w.keys[id] = b
	}
	return b
}

func (w *watchSet[T, ID]) lookupKey(id ID) (*notify.Broadcaster[Event[T]], bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.keys[id]
	return b, ok
}

func (w *watchSet[T, ID]) list(q query.Query) (*notify.Broadcaster[[]T], string) {
	fingerprint := q.Fingerprint()
	w.mu.Lock()
	defer w.mu.Unlock()
	lw, ok := w.listsByFP[fingerprint]
	if !ok {
		lw = listWatch[T]{q: q, b: notify.NewBroadcaster[[]T]()}
		w.listsByFP[fingerprint] = lw
	}
	return lw.b, fingerprint
}

func (w *watchSet[T, ID]) lists() []listWatch[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]listWatch[T], 0, len(w.listsByFP))
	for _, lw := range w.listsByFP {
		out = append(out, lw)
	}
	return out
}

// startKeyRevalidation reports whether this key still needs a revalidation
// loop, claiming it when so.
func (w *watchSet[T, ID]) startKeyRevalidation(id ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.revalKeys[id] {
		return false
	}
	w.revalKeys[id] = true
	return true
}

func (w *watchSet[T, ID]) startListRevalidation(fingerprint string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.revalLists[fingerprint] {
		return false
	}
	w.revalLists[fingerprint] = true
	return true
}

func (w *watchSet[T, ID]) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.keys {
		b.Close()
	}
	for _, lw := range w.listsByFP {
		lw.b.Close()
	}
}
