package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/nexlayer/nexlayer/pkg/query"
)

type memoryEntry[T any] struct {
	record    T
	writtenAt time.Time
}

// Memory is a thread-safe in-memory DataSource. It backs the default local
// cache and doubles as the reference source in tests. Queries are evaluated
// through the filter evaluator, so its semantics define what every native
// translator must reproduce. Unordered queries return records in insertion
// order so repeated reads are deterministic.
type Memory[T any, ID comparable] struct {
	mu       sync.RWMutex
	records  map[ID]memoryEntry[T]
	order    []ID
	idFn     IDFunc[T, ID]
	accessor query.FieldAccessor[T]
	clock    func() time.Time
}

// NewMemory creates an empty in-memory source.
func NewMemory[T any, ID comparable](idFn IDFunc[T, ID], accessor query.FieldAccessor[T]) *Memory[T, ID] {
	return &Memory[T, ID]{
		records:  make(map[ID]memoryEntry[T]),
		idFn:     idFn,
		accessor: accessor,
		clock:    time.Now,
	}
}

// WithClock overrides the time source. Tests use it to age entries.
func (m *Memory[T, ID]) WithClock(clock func() time.Time) *Memory[T, ID] {
	m.clock = clock
	return m
}

// Get returns the record stored under id, or ErrNotFound.
func (m *Memory[T, ID]) Get(_ context.Context, id ID) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.records[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return entry.record, nil
}

// GetAll evaluates the query against the full record set.
func (m *Memory[T, ID]) GetAll(ctx context.Context, q query.Query) ([]T, error) {
	page, err := m.GetPage(ctx, q)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// GetPage evaluates the query and returns the page with its metadata.
func (m *Memory[T, ID]) GetPage(_ context.Context, q query.Query) (query.Page[T], error) {
	m.mu.RLock()
	all := make([]T, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.records[id].record)
	}
	m.mu.RUnlock()

	return query.Apply(all, q, m.accessor), nil
}

// Save stores the record under its extracted identity, overwriting any
// previous value and refreshing its write time.
func (m *Memory[T, ID]) Save(_ context.Context, record T) error {
	id := m.idFn(record)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[id]; !exists {
		m.order = append(m.order, id)
	}
	m.records[id] = memoryEntry[T]{record: record, writtenAt: m.clock()}
	return nil
}

// Delete removes the record under id. Deleting an absent record is a no-op:
// cache eviction must be idempotent.
func (m *Memory[T, ID]) Delete(_ context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[id]; !exists {
		return nil
	}
	delete(m.records, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Capabilities reports an offline-capable source without native filtering
// or a push channel.
func (m *Memory[T, ID]) Capabilities() Capabilities {
	return Capabilities{SupportsOffline: true}
}

// WrittenAt reports when the record under id was last saved.
func (m *Memory[T, ID]) WrittenAt(_ context.Context, id ID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.records[id]
	if !ok {
		return time.Time{}, false
	}
	return entry.writtenAt, true
}

// Len returns the number of stored records.
func (m *Memory[T, ID]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
