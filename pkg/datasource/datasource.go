package datasource

import (
	"context"
	"time"

	"github.com/nexlayer/nexlayer/pkg/query"
)

// Capabilities advertises what a backend can do natively. The policy engine
// consults these flags instead of probing behavior at runtime.
type Capabilities struct {
	// SupportsOffline marks sources that serve reads without connectivity
	// (local caches, embedded databases).
	SupportsOffline bool
	// SupportsRealtime marks sources with a native push channel the watch
	// path may subscribe to instead of re-reading.
	SupportsRealtime bool
	// SupportsNativeFiltering marks sources that evaluate queries themselves.
	// Sources without it receive the full record set and are filtered through
	// the query evaluator.
	SupportsNativeFiltering bool
}

// IDFunc extracts the identity of a record. Supplied by the application at
// store construction time, analogous to the field accessor used by filters.
type IDFunc[T any, ID comparable] func(record T) ID

// DataSource is the read/write contract the policy engine orchestrates.
// Implementations own their internal locking; the engine treats them as
// opaque, independently synchronized collaborators.
//
// Reads of absent records return ErrNotFound. Transient transport failures
// are reported as *NetworkError so the retry controller can classify them.
type DataSource[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	GetAll(ctx context.Context, q query.Query) ([]T, error)
	Save(ctx context.Context, record T) error
	Delete(ctx context.Context, id ID) error
	Capabilities() Capabilities
}

// SaveReturning is implemented by network sources whose save echoes the
// stored record (server-assigned fields, normalized values). The policy
// engine compares the echo against what it sent to detect write conflicts.
type SaveReturning[T any] interface {
	SaveReturning(ctx context.Context, record T) (T, error)
}

// AgeReporter is implemented by cache sources that track per-record write
// times. The staleWhileRevalidate policy uses it to decide freshness; a
// source without it is treated as always stale.
type AgeReporter[ID comparable] interface {
	WrittenAt(ctx context.Context, id ID) (time.Time, bool)
}
