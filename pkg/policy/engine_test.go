package policy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/query"
	"github.com/nexlayer/nexlayer/pkg/resilience"
)

type note struct {
	ID      string    `json:"id"`
	Body    string    `json:"body"`
	Updated time.Time `json:"updated_at"`
}

func noteID(n note) string { return n.ID }

// fakeNetwork is a scriptable remote source. Errors are injected per
// operation; calls and accepted saves are recorded for assertions.
type fakeNetwork struct {
	mu        sync.Mutex
	records   map[string]note
	getErr    error
	saveErr   error
	deleteErr error
	getCalls  int
	saveCalls int
	saved     []string
	gate      chan struct{}
}

func newFakeNetwork(records ...note) *fakeNetwork {
	f := &fakeNetwork{records: make(map[string]note)}
	for _, n := range records {
		f.records[n.ID] = n
	}
	return f
}

func (f *fakeNetwork) Get(_ context.Context, id string) (note, error) {
	f.mu.Lock()
	f.getCalls++
	gate := f.gate
	err := f.getErr
	n, ok := f.records[id]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return note{}, err
	}
	if !ok {
		return note{}, datasource.ErrNotFound
	}
	return n, nil
}

func (f *fakeNetwork) GetAll(_ context.Context, _ query.Query) ([]note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	ids := make([]string, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]note, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.records[id])
	}
	return out, nil
}

func (f *fakeNetwork) Save(_ context.Context, n note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[n.ID] = n
	f.saved = append(f.saved, n.ID+":"+n.Body)
	return nil
}

func (f *fakeNetwork) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.records[id]; !ok {
		return datasource.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeNetwork) Capabilities() datasource.Capabilities {
	return datasource.Capabilities{}
}

func (f *fakeNetwork) setGetErr(err error)  { f.mu.Lock(); f.getErr = err; f.mu.Unlock() }
func (f *fakeNetwork) setSaveErr(err error) { f.mu.Lock(); f.saveErr = err; f.mu.Unlock() }

func (f *fakeNetwork) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func (f *fakeNetwork) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

func (f *fakeNetwork) savedOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saved...)
}

// fastRetry keeps test retries in the microsecond range.
var fastRetry = resilience.RetryConfig{
	MaxAttempts:    1,
	InitialDelay:   time.Millisecond,
	MaxDelay:       time.Millisecond,
	Multiplier:     1,
	JitterFraction: 0,
}

func newNoteCache() *datasource.Memory[note, string] {
	return datasource.NewMemory[note, string](noteID, query.StructAccessor[note]())
}

func newTestEngine(t *testing.T, cache datasource.DataSource[note, string], net datasource.DataSource[note, string], mutate ...func(*Config[note, string])) *Engine[note, string] {
	t.Helper()
	cfg := Config[note, string]{
		Cache:    cache,
		Network:  net,
		IDFunc:   noteID,
		Codec:    NewJSONCodec[note, string](),
		Accessor: query.StructAccessor[note](),
		Retry:    fastRetry,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func netDown() error {
	return datasource.NewNetworkError("request", false, errors.New("connection refused"))
}

func TestNewRequiresSources(t *testing.T) {
	_, err := New(Config[note, string]{})
	if err == nil {
		t.Fatal("expected error for missing cache")
	}
	_, err = New(Config[note, string]{Cache: newNoteCache()})
	if err == nil {
		t.Fatal("expected error for missing network")
	}
}

func TestParsePolicies(t *testing.T) {
	for _, s := range []string{"cache_first", "network_first", "cache_and_network", "cache_only", "network_only", "stale_while_revalidate"} {
		if _, err := ParseFetchPolicy(s); err != nil {
			t.Errorf("ParseFetchPolicy(%q): %v", s, err)
		}
	}
	if _, err := ParseFetchPolicy("eventually"); err == nil {
		t.Error("ParseFetchPolicy accepted unknown policy")
	}
	for _, s := range []string{"cache_and_network", "network_first", "cache_first", "cache_only"} {
		if _, err := ParseWritePolicy(s); err != nil {
			t.Errorf("ParseWritePolicy(%q): %v", s, err)
		}
	}
	if _, err := ParseWritePolicy("fire_and_forget"); err == nil {
		t.Error("ParseWritePolicy accepted unknown policy")
	}
}

func TestGetCacheOnly(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "remote"})
	e := newTestEngine(t, cache, net)

	if _, err := e.Get(ctx, "a", CacheOnly); !datasource.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound on empty cache, got %v", err)
	}

	if err := cache.Save(ctx, note{ID: "a", Body: "local"}); err != nil {
		t.Fatal(err)
	}
	got, err := e.Get(ctx, "a", CacheOnly)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "local" {
		t.Fatalf("got %q, want cached value", got.Body)
	}
	if net.gets() != 0 {
		t.Fatalf("cacheOnly touched the network %d times", net.gets())
	}
}

func TestGetNetworkOnlyBypassesCache(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "remote"})
	e := newTestEngine(t, cache, net)

	got, err := e.Get(ctx, "a", NetworkOnly)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "remote" {
		t.Fatalf("got %q, want remote value", got.Body)
	}
	if cache.Len() != 0 {
		t.Fatal("networkOnly must not populate the cache")
	}
}

func TestGetCacheFirstWritesThrough(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "remote"})
	e := newTestEngine(t, cache, net)

	got, err := e.Get(ctx, "a", CacheFirst)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "remote" {
		t.Fatalf("got %q, want network value on cache miss", got.Body)
	}

	cached, err := cache.Get(ctx, "a")
	if err != nil || cached.Body != "remote" {
		t.Fatalf("write-through missing: %+v, %v", cached, err)
	}

	// Second read is served from cache.
	if _, err := e.Get(ctx, "a", CacheFirst); err != nil {
		t.Fatal(err)
	}
	if net.gets() != 1 {
		t.Fatalf("network consulted %d times, want 1", net.gets())
	}
}

func TestGetNetworkFirstFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork()
	e := newTestEngine(t, cache, net)

	if err := cache.Save(ctx, note{ID: "a", Body: "stale"}); err != nil {
		t.Fatal(err)
	}
	net.setGetErr(netDown())

	got, err := e.Get(ctx, "a", NetworkFirst)
	if err != nil {
		t.Fatalf("expected cached fallback, got %v", err)
	}
	if got.Body != "stale" {
		t.Fatalf("got %q, want stale cached value", got.Body)
	}

	// With the cache empty too, the network failure is surfaced.
	if err := cache.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get(ctx, "a", NetworkFirst); !errors.Is(err, datasource.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestGetNetworkFirstNotFoundWinsOverCache(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork()
	e := newTestEngine(t, cache, net)

	if err := cache.Save(ctx, note{ID: "gone", Body: "zombie"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get(ctx, "gone", NetworkFirst); !datasource.IsNotFound(err) {
		t.Fatalf("remote not-found must not fall back to cache, got %v", err)
	}
}

func TestGetCacheAndNetworkEmitsCacheThenRefreshes(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "v2"})
	e := newTestEngine(t, cache, net)

	if err := cache.Save(ctx, note{ID: "a", Body: "v1"}); err != nil {
		t.Fatal(err)
	}

	got, err := e.Get(ctx, "a", CacheAndNetwork)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "v1" {
		t.Fatalf("got %q, want the cached value first", got.Body)
	}

	waitFor(t, "background refresh", func() bool {
		n, err := cache.Get(ctx, "a")
		return err == nil && n.Body == "v2"
	})
}

func TestGetCacheAndNetworkBlocksOnMiss(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "remote"})
	e := newTestEngine(t, cache, net)

	got, err := e.Get(ctx, "a", CacheAndNetwork)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "remote" {
		t.Fatalf("got %q, want network value on cache miss", got.Body)
	}
}

func TestGetCacheAndNetworkEvictsRemotelyDeleted(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork()
	e := newTestEngine(t, cache, net)

	if err := cache.Save(ctx, note{ID: "gone", Body: "zombie"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get(ctx, "gone", CacheAndNetwork); err != nil {
		t.Fatalf("cached emission should succeed, got %v", err)
	}
	waitFor(t, "eviction of remotely deleted record", func() bool {
		_, err := cache.Get(ctx, "gone")
		return datasource.IsNotFound(err)
	})
}

func TestGetStaleWhileRevalidate(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "v2"})

	t.Run("fresh entry served without revalidation", func(t *testing.T) {
		e := newTestEngine(t, cache, net, func(cfg *Config[note, string]) {
			cfg.StaleDuration = time.Hour
		})
		if err := cache.Save(ctx, note{ID: "a", Body: "v1"}); err != nil {
			t.Fatal(err)
		}
		got, err := e.Get(ctx, "a", StaleWhileRevalidate)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Body != "v1" {
			t.Fatalf("got %q, want fresh cached value", got.Body)
		}
		e.Close()
		if net.gets() != 0 {
			t.Fatalf("fresh read revalidated %d times", net.gets())
		}
	})

	t.Run("stale entry served and revalidated", func(t *testing.T) {
		e := newTestEngine(t, cache, net, func(cfg *Config[note, string]) {
			cfg.StaleDuration = time.Nanosecond
		})
		got, err := e.Get(ctx, "a", StaleWhileRevalidate)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Body != "v1" {
			t.Fatalf("got %q, want the stale value immediately", got.Body)
		}
		waitFor(t, "revalidation", func() bool {
			n, err := cache.Get(ctx, "a")
			return err == nil && n.Body == "v2"
		})
	})
}

func TestGetAllCacheFirstFallsToNetworkWhenEmpty(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "x"}, note{ID: "b", Body: "y"})
	e := newTestEngine(t, cache, net)

	got, err := e.GetAll(ctx, query.New(), CacheFirst)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if cache.Len() != 2 {
		t.Fatalf("write-through cached %d records, want 2", cache.Len())
	}

	if _, err := e.GetAll(ctx, query.New(), CacheFirst); err != nil {
		t.Fatal(err)
	}
	if net.gets() != 1 {
		t.Fatalf("network consulted %d times, want 1", net.gets())
	}
}

func TestGetAllNetworkFirstFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork()
	e := newTestEngine(t, cache, net)

	if err := cache.Save(ctx, note{ID: "a", Body: "x"}); err != nil {
		t.Fatal(err)
	}
	net.setGetErr(netDown())

	got, err := e.GetAll(ctx, query.New(), NetworkFirst)
	if err != nil {
		t.Fatalf("expected cached fallback, got %v", err)
	}
	if len(got) != 1 || got[0].Body != "x" {
		t.Fatalf("got %+v, want the cached record", got)
	}
}

func TestGetRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	net := newFakeNetwork()
	net.setGetErr(datasource.NewNetworkError("get", true, errors.New("flaky")))
	e := newTestEngine(t, newNoteCache(), net, func(cfg *Config[note, string]) {
		cfg.Retry = resilience.RetryConfig{
			MaxAttempts:    3,
			InitialDelay:   time.Millisecond,
			MaxDelay:       time.Millisecond,
			Multiplier:     1,
			JitterFraction: 0,
		}
	})

	if _, err := e.Get(ctx, "a", NetworkOnly); err == nil {
		t.Fatal("expected failure after retries")
	}
	if net.gets() != 3 {
		t.Fatalf("network attempted %d times, want the full schedule of 3", net.gets())
	}
}

func TestGetDeduplicatesInflightRequests(t *testing.T) {
	ctx := context.Background()
	net := newFakeNetwork(note{ID: "a", Body: "remote"})
	gate := make(chan struct{})
	net.gate = gate
	e := newTestEngine(t, newNoteCache(), net)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Get(ctx, "a", NetworkOnly)
		}(i)
	}

	waitFor(t, "first request to reach the network", func() bool { return net.gets() >= 1 })
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if net.gets() != 1 {
		t.Fatalf("network hit %d times for one key+policy, want 1", net.gets())
	}
}

func TestOnUpdateFiresOnWriteThrough(t *testing.T) {
	ctx := context.Background()
	cache := newNoteCache()
	net := newFakeNetwork(note{ID: "a", Body: "remote"})

	var mu sync.Mutex
	var seen []string
	e := newTestEngine(t, cache, net, func(cfg *Config[note, string]) {
		cfg.OnUpdate = func(id string, n note, found bool) {
			mu.Lock()
			defer mu.Unlock()
			if found {
				seen = append(seen, id+":"+n.Body)
			} else {
				seen = append(seen, id+":deleted")
			}
		}
	})

	if _, err := e.Get(ctx, "a", CacheFirst); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "a:remote" {
		t.Fatalf("updates %v, want the write-through notification", seen)
	}
}
