package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ChangeOp identifies what a pending change replays against the network.
type ChangeOp string

const (
	// OpSave replays a record save.
	OpSave ChangeOp = "save"
	// OpDelete replays a record deletion.
	OpDelete ChangeOp = "delete"
)

// PendingChange is a write accepted locally but not yet confirmed by the
// network source. The payload is the JSON encoding of the record so the
// queue serializes to a backend-agnostic form.
type PendingChange struct {
	ID         string          `json:"id"`
	Key        string          `json:"key"`
	Op         ChangeOp        `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// PendingQueue stores pending changes in arrival order. Implementations are
// safe for concurrent use. Replays to the same key must keep queue order.
type PendingQueue interface {
	Enqueue(ctx context.Context, change PendingChange) error
	// List returns all pending changes in FIFO order.
	List(ctx context.Context) ([]PendingChange, error)
	// Update replaces the stored change with the same ID (attempt counts,
	// last error). Unknown IDs are ignored.
	Update(ctx context.Context, change PendingChange) error
	Remove(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}

// queueStateVersion identifies the serialized queue layout.
const queueStateVersion = 1

type queueState struct {
	Version int             `json:"version"`
	Changes []PendingChange `json:"changes"`
}

// MarshalQueue serializes pending changes into the versioned envelope used
// for persistence across process restarts.
func MarshalQueue(changes []PendingChange) ([]byte, error) {
	return json.Marshal(queueState{Version: queueStateVersion, Changes: changes})
}

// UnmarshalQueue parses a snapshot produced by MarshalQueue, rejecting
// snapshots from a different layout version.
func UnmarshalQueue(raw []byte) ([]PendingChange, error) {
	var state queueState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode pending queue: %w", err)
	}
	if state.Version != queueStateVersion {
		return nil, fmt.Errorf("decode pending queue: unsupported version %d", state.Version)
	}
	return state.Changes, nil
}

// MemoryQueue is the default in-process pending queue. Snapshot/Restore
// expose the versioned form so callers can persist it wherever they like.
type MemoryQueue struct {
	mu      sync.RWMutex
	changes []PendingChange
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue appends a change.
func (q *MemoryQueue) Enqueue(_ context.Context, change PendingChange) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.changes = append(q.changes, change)
	return nil
}

// List returns the changes in FIFO order.
func (q *MemoryQueue) List(_ context.Context) ([]PendingChange, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]PendingChange(nil), q.changes...), nil
}

// Update replaces the change with a matching ID.
func (q *MemoryQueue) Update(_ context.Context, change PendingChange) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.changes {
		if q.changes[i].ID == change.ID {
			q.changes[i] = change
			return nil
		}
	}
	return nil
}

// Remove deletes the change with the given ID, keeping order.
func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.changes {
		if q.changes[i].ID == id {
			q.changes = append(q.changes[:i], q.changes[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports the number of queued changes.
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.changes), nil
}

// Snapshot returns the queue in its versioned serialized form.
func (q *MemoryQueue) Snapshot() ([]byte, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return MarshalQueue(q.changes)
}

// Restore replaces the queue contents from a snapshot.
func (q *MemoryQueue) Restore(raw []byte) error {
	changes, err := UnmarshalQueue(raw)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.changes = changes
	return nil
}
