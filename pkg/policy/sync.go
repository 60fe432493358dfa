package policy

import (
	"context"
	"fmt"

	"github.com/nexlayer/nexlayer/pkg/datasource"
)

// Flush replays the pending queue against the network source in FIFO
// order. Later changes for a key whose earlier change failed are skipped in
// that pass to preserve per-key request order. A change that exhausts its
// retry schedule stays queued for manual retry or cancellation and moves
// the store to StatusError.
//
// Flush is the re-entry point an external sync scheduler drives; the
// engine never schedules it on its own.
func (e *Engine[T, ID]) Flush(ctx context.Context) error {
	if e.status.Current() == StatusPaused {
		return nil
	}

	changes, err := e.queue.List(ctx)
	if err != nil {
		return fmt.Errorf("listing pending changes: %w", err)
	}
	if len(changes) == 0 {
		e.bumpStatus(ctx, EventSyncCompleted)
		return nil
	}

	e.bumpStatus(ctx, EventSyncStarted)

	failedKeys := make(map[string]bool)
	var firstErr error
	for _, change := range changes {
		if failedKeys[change.Key] {
			continue
		}

		if err := e.replay(ctx, change); err != nil {
			failedKeys[change.Key] = true
			if firstErr == nil {
				firstErr = err
			}
			change.Attempts++
			change.LastError = err.Error()
			if uerr := e.queue.Update(ctx, change); uerr != nil {
				e.log.Warn("recording replay failure failed", "change", change.ID, "error", uerr)
			}
			e.log.Warn("pending change replay failed",
				"change", change.ID, "key", change.Key, "attempts", change.Attempts, "error", err)
			continue
		}

		if err := e.queue.Remove(ctx, change.ID); err != nil {
			e.log.Warn("removing replayed change failed", "change", change.ID, "error", err)
		}
		e.metrics.incPendingReplayed()
	}

	if firstErr != nil {
		e.bumpStatus(ctx, EventRetriesExhausted)
		return firstErr
	}
	e.bumpStatus(ctx, EventSyncCompleted)
	return nil
}

// CancelPending drops a parked change without replaying it.
func (e *Engine[T, ID]) CancelPending(ctx context.Context, changeID string) error {
	if err := e.queue.Remove(ctx, changeID); err != nil {
		return err
	}
	e.bumpStatus(ctx, EventSyncCompleted)
	return nil
}

// PendingChanges lists the parked changes in replay order.
func (e *Engine[T, ID]) PendingChanges(ctx context.Context) ([]PendingChange, error) {
	return e.queue.List(ctx)
}

func (e *Engine[T, ID]) replay(ctx context.Context, change PendingChange) error {
	switch change.Op {
	case OpSave:
		record, err := e.codec.DecodeRecord(change.Payload)
		if err != nil {
			return err
		}
		_, err = e.networkSave(ctx, record)
		return err
	case OpDelete:
		id, err := e.codec.DecodeID(change.Payload)
		if err != nil {
			return err
		}
		err = e.networkDelete(ctx, id)
		if datasource.IsNotFound(err) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: unknown change op %q", datasource.ErrState, change.Op)
	}
}
