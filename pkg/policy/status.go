// Package policy implements the fetch/write policy engine: for every read
// and write it decides whether and in what order the cache and network
// sources are consulted, how failures fall back, how conflicting outcomes
// are reconciled, and which sync state the store ends up in.
package policy

import (
	"sync"

	"github.com/nexlayer/nexlayer/pkg/notify"
)

// SyncStatus describes the store's synchronization state. It is store-scoped:
// each engine owns one StatusTracker and there is no process-global state.
type SyncStatus string

const (
	// StatusSynced means no local changes are awaiting the network.
	StatusSynced SyncStatus = "synced"
	// StatusSyncing means a sync pass is replaying pending changes.
	StatusSyncing SyncStatus = "syncing"
	// StatusPending means at least one write is accepted locally but not
	// yet confirmed by the network.
	StatusPending SyncStatus = "pending"
	// StatusError means a pending change exhausted its retries.
	StatusError SyncStatus = "error"
	// StatusPaused means an external scheduler suspended syncing.
	StatusPaused SyncStatus = "paused"
	// StatusConflict means divergent versions could not be auto-resolved.
	StatusConflict SyncStatus = "conflict"
)

// StatusEvent is an input to the sync status state machine. Events are
// produced only by the engine's write path and by explicit sync calls;
// there is no timer-driven self-transition.
type StatusEvent string

const (
	// EventSyncStarted marks the beginning of a sync pass.
	EventSyncStarted StatusEvent = "sync_started"
	// EventSyncCompleted marks a sync pass that drained the queue.
	EventSyncCompleted StatusEvent = "sync_completed"
	// EventChangeQueued marks a write parked for later replay.
	EventChangeQueued StatusEvent = "change_queued"
	// EventRetriesExhausted marks a change whose retry schedule ran out.
	EventRetriesExhausted StatusEvent = "retries_exhausted"
	// EventConflictDetected marks an unresolvable version divergence.
	EventConflictDetected StatusEvent = "conflict_detected"
	// EventConflictResolved marks a conflict settled by a strategy.
	EventConflictResolved StatusEvent = "conflict_resolved"
	// EventPaused suspends syncing; only EventResumed leaves it.
	EventPaused StatusEvent = "paused"
	// EventResumed lifts a pause.
	EventResumed StatusEvent = "resumed"
)

// nextStatus is the pure transition function of the state machine.
// Unknown combinations keep the current state.
func nextStatus(current SyncStatus, event StatusEvent, pendingLeft int) SyncStatus {
	if current == StatusPaused && event != EventResumed {
		return StatusPaused
	}

	switch event {
	case EventSyncStarted:
		return StatusSyncing
	case EventSyncCompleted:
		if pendingLeft > 0 {
			return StatusPending
		}
		return StatusSynced
	case EventChangeQueued:
		return StatusPending
	case EventRetriesExhausted:
		return StatusError
	case EventConflictDetected:
		return StatusConflict
	case EventConflictResolved:
		if pendingLeft > 0 {
			return StatusPending
		}
		return StatusSynced
	case EventPaused:
		return StatusPaused
	case EventResumed:
		if pendingLeft > 0 {
			return StatusPending
		}
		return StatusSynced
	default:
		return current
	}
}

// StatusTracker holds one store's sync status and streams transitions to
// observers. The broadcaster replays the current status to new subscribers.
type StatusTracker struct {
	mu          sync.Mutex
	broadcaster *notify.Broadcaster[SyncStatus]
}

// NewStatusTracker starts in StatusSynced.
func NewStatusTracker() *StatusTracker {
	t := &StatusTracker{broadcaster: notify.NewBroadcaster[SyncStatus]()}
	t.broadcaster.Publish(StatusSynced)
	return t
}

// Current returns the present status.
func (t *StatusTracker) Current() SyncStatus {
	s, _ := t.broadcaster.Current()
	return s
}

// Apply feeds an event through the transition function and publishes the
// resulting status when it changed.
func (t *StatusTracker) Apply(event StatusEvent, pendingLeft int) SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.Current()
	next := nextStatus(current, event, pendingLeft)
	if next != current {
		t.broadcaster.Publish(next)
	}
	return next
}

// Subscribe streams status transitions, starting with the current status.
func (t *StatusTracker) Subscribe() *notify.Subscription[SyncStatus] {
	return t.broadcaster.Subscribe()
}

// Close tears the stream down.
func (t *StatusTracker) Close() {
	t.broadcaster.Close()
}
