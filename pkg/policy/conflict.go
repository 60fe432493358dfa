package policy

import (
	"fmt"
	"reflect"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/query"
)

// ConflictStrategy selects how divergent cache/network values for one key
// are reconciled.
type ConflictStrategy string

const (
	// ServerWins keeps the network value and overwrites the cache.
	ServerWins ConflictStrategy = "server_wins"
	// ClientWins keeps the cache value and re-pushes it to the network.
	ClientWins ConflictStrategy = "client_wins"
	// LatestWins compares a timestamp field; ties favor the server value.
	LatestWins ConflictStrategy = "latest_wins"
	// MergeFields applies a caller-supplied field-level merge function.
	MergeFields ConflictStrategy = "merge"
	// Custom delegates entirely to a caller-supplied resolver.
	Custom ConflictStrategy = "custom"
)

// DefaultTimestampField is the record field LatestWins compares when the
// configuration names none.
const DefaultTimestampField = "updated_at"

// ConflictConfig configures the resolver for one store.
type ConflictConfig[T any] struct {
	Strategy ConflictStrategy
	// TimestampField names the field LatestWins reads through the store's
	// accessor. Empty means DefaultTimestampField.
	TimestampField string
	// Merge combines both versions field by field. Required for MergeFields.
	Merge func(local, remote T) (T, error)
	// Resolve receives both versions and picks the winner. Required for Custom.
	Resolve func(local, remote T) (T, error)
}

// Resolution is the outcome of conflict resolution.
type Resolution[T any] struct {
	Winner T
	// PushToNetwork is set when the winning value must be re-sent to the
	// network source (client-side wins).
	PushToNetwork bool
}

// resolveConflict reconciles a divergent pair. An unresolvable conflict
// returns a *datasource.ConflictError and the caller moves the store into
// StatusConflict.
func resolveConflict[T any](
	key string,
	local, remote T,
	cfg ConflictConfig[T],
	accessor query.FieldAccessor[T],
) (Resolution[T], error) {
	switch cfg.Strategy {
	case ServerWins, "":
		return Resolution[T]{Winner: remote}, nil

	case ClientWins:
		return Resolution[T]{Winner: local, PushToNetwork: true}, nil

	case LatestWins:
		field := cfg.TimestampField
		if field == "" {
			field = DefaultTimestampField
		}
		localTS, lok := timestampOf(local, field, accessor)
		remoteTS, rok := timestampOf(remote, field, accessor)
		if !lok || !rok {
			return Resolution[T]{}, &datasource.ConflictError{Key: key, Local: local, Remote: remote}
		}
		if localTS.After(remoteTS) {
			return Resolution[T]{Winner: local, PushToNetwork: true}, nil
		}
		// Ties favor the server.
		return Resolution[T]{Winner: remote}, nil

	case MergeFields:
		if cfg.Merge == nil {
			return Resolution[T]{}, fmt.Errorf("%w: merge strategy without merge function", datasource.ErrState)
		}
		merged, err := cfg.Merge(local, remote)
		if err != nil {
			return Resolution[T]{}, &datasource.ConflictError{Key: key, Local: local, Remote: remote}
		}
		return Resolution[T]{Winner: merged, PushToNetwork: true}, nil

	case Custom:
		if cfg.Resolve == nil {
			return Resolution[T]{}, fmt.Errorf("%w: custom strategy without resolver", datasource.ErrState)
		}
		winner, err := cfg.Resolve(local, remote)
		if err != nil {
			return Resolution[T]{}, &datasource.ConflictError{Key: key, Local: local, Remote: remote}
		}
		return Resolution[T]{Winner: winner, PushToNetwork: true}, nil

	default:
		return Resolution[T]{}, fmt.Errorf("%w: unknown conflict strategy %q", datasource.ErrState, cfg.Strategy)
	}
}

// diverged reports whether two versions of a record differ.
func diverged[T any](a, b T) bool {
	return !reflect.DeepEqual(a, b)
}

// timestampOf reads a time-valued field through the accessor. RFC 3339
// strings and Unix epochs are accepted alongside time.Time.
func timestampOf[T any](record T, field string, accessor query.FieldAccessor[T]) (time.Time, bool) {
	if accessor == nil {
		return time.Time{}, false
	}
	v, ok := accessor(record, field)
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch ts := v.(type) {
	case time.Time:
		return ts, true
	case string:
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case int64:
		return time.Unix(ts, 0), true
	case float64:
		return time.Unix(int64(ts), 0), true
	default:
		return time.Time{}, false
	}
}
