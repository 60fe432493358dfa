// Package datasource defines the capability contract every storage backend
// satisfies, the shared error taxonomy the policy engine dispatches on, and
// an in-memory source used both as the default local cache and as a test
// double.
package datasource

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound classifies reads of absent records. Terminal, never retried.
	ErrNotFound = errors.New("datasource: not found")
	// ErrNetwork classifies transport-level failures. Retryability is carried
	// per error by NetworkError.
	ErrNetwork = errors.New("datasource: network error")
	// ErrValidation classifies rejected payloads. Terminal, never retried.
	ErrValidation = errors.New("datasource: validation error")
	// ErrConflict classifies divergent cache/network values for one key.
	// Terminal unless an automatic resolution strategy is configured.
	ErrConflict = errors.New("datasource: conflict")
	// ErrState classifies programmer errors (misuse of a closed store,
	// invalid transitions). Always terminal.
	ErrState = errors.New("datasource: invalid state")
)

// NetworkError carries a transport failure and whether retrying can help.
// Timeouts and connection resets are retryable; a 4xx-equivalent rejection
// is not.
type NetworkError struct {
	Op        string
	Retryable bool
	Err       error
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, retryable bool, err error) *NetworkError {
	return &NetworkError{Op: op, Retryable: retryable, Err: err}
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("network error during %s", e.Op)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is matches both the ErrNetwork sentinel and wrapped causes.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ConflictError reports divergent local and remote versions of one record.
type ConflictError struct {
	Key    string
	Local  interface{}
	Remote interface{}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting versions for key %q", e.Key)
}

// Is matches the ErrConflict sentinel.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsRetryable reports whether an error is a transient network failure worth
// retrying. Validation, not-found, conflict, and state errors never are.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retryable
	}
	return false
}

// IsNotFound reports whether an error means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
