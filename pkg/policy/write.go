package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexlayer/nexlayer/pkg/datasource"
)

func invalidPolicy(name string) error {
	return fmt.Errorf("%w: unknown policy %q", datasource.ErrState, name)
}

// Save writes one record under the given write policy. Once a save reaches
// a source it runs to completion or failure; there is no cancellation of an
// accepted write.
func (e *Engine[T, ID]) Save(ctx context.Context, record T, policy WritePolicy) error {
	id := e.idFn(record)

	switch policy {
	case WriteCacheOnly:
		// Never contacts the network, never counts as pending.
		if err := e.cache.Save(ctx, record); err != nil {
			return err
		}
		e.notifyUpdate(id, record, true)
		return nil

	case WriteNetworkFirst:
		var confirmed T
		var netErr error
		e.lanes.enqueueWait(id, func() {
			confirmed, netErr = e.networkSave(context.WithoutCancel(ctx), record)
		})
		if netErr != nil {
			// The cache stays untouched on failure.
			return netErr
		}
		if err := e.cache.Save(ctx, confirmed); err != nil {
			e.log.Warn("cache write-through after network save failed",
				"key", e.codec.KeyString(id), "error", err)
			return nil
		}
		e.notifyUpdate(id, confirmed, true)
		return nil

	case WriteCacheAndNetwork:
		if err := e.cache.Save(ctx, record); err != nil {
			return err
		}
		e.notifyUpdate(id, record, true)
		e.syncAsync(ctx, id, OpSave, record, false)
		return nil

	case WriteCacheFirst:
		if err := e.cache.Save(ctx, record); err != nil {
			return err
		}
		e.notifyUpdate(id, record, true)
		// Durable variant: the change is parked before the attempt so a
		// crash between accept and send cannot lose the write intent.
		e.syncAsync(ctx, id, OpSave, record, true)
		return nil

	default:
		return invalidPolicy(string(policy))
	}
}

// Delete removes one record under the given write policy.
func (e *Engine[T, ID]) Delete(ctx context.Context, id ID, policy WritePolicy) error {
	var zero T

	switch policy {
	case WriteCacheOnly:
		if err := e.cache.Delete(ctx, id); err != nil {
			return err
		}
		e.notifyUpdate(id, zero, false)
		return nil

	case WriteNetworkFirst:
		var netErr error
		e.lanes.enqueueWait(id, func() {
			netErr = e.networkDelete(context.WithoutCancel(ctx), id)
		})
		if netErr != nil && !datasource.IsNotFound(netErr) {
			return netErr
		}
		if err := e.cache.Delete(ctx, id); err != nil {
			return err
		}
		e.notifyUpdate(id, zero, false)
		return nil

	case WriteCacheAndNetwork:
		if err := e.cache.Delete(ctx, id); err != nil {
			return err
		}
		e.notifyUpdate(id, zero, false)
		e.syncAsync(ctx, id, OpDelete, zero, false)
		return nil

	case WriteCacheFirst:
		if err := e.cache.Delete(ctx, id); err != nil {
			return err
		}
		e.notifyUpdate(id, zero, false)
		e.syncAsync(ctx, id, OpDelete, zero, true)
		return nil

	default:
		return invalidPolicy(string(policy))
	}
}

// syncAsync performs the background half of an optimistic write on the
// key's lane. With durable=true the change is enqueued before the attempt
// and removed on success; otherwise it is enqueued only when the network
// write fails.
func (e *Engine[T, ID]) syncAsync(ctx context.Context, id ID, op ChangeOp, record T, durable bool) {
	bgCtx := context.WithoutCancel(ctx)

	change, err := e.buildChange(id, op, record)
	if err != nil {
		e.log.Error("encoding change for pending queue failed",
			"key", e.codec.KeyString(id), "error", err)
		return
	}

	if durable {
		if err := e.queue.Enqueue(bgCtx, change); err != nil {
			e.log.Error("parking change in pending queue failed",
				"key", e.codec.KeyString(id), "error", err)
		} else {
			e.metrics.incPendingEnqueued()
			e.bumpStatus(bgCtx, EventChangeQueued)
		}
	}

	e.lanes.enqueue(id, func() {
		var netErr error
		switch op {
		case OpSave:
			_, netErr = e.networkSave(bgCtx, record)
		case OpDelete:
			netErr = e.networkDelete(bgCtx, id)
			if datasource.IsNotFound(netErr) {
				netErr = nil
			}
		}

		if netErr == nil {
			if durable {
				if err := e.queue.Remove(bgCtx, change.ID); err != nil {
					e.log.Warn("removing confirmed change failed", "change", change.ID, "error", err)
				}
				e.metrics.incPendingReplayed()
				e.bumpStatus(bgCtx, EventSyncCompleted)
			}
			return
		}

		e.log.Warn("background network write failed, change parked for retry",
			"key", e.codec.KeyString(id), "op", string(op), "error", netErr)
		if !durable {
			change.LastError = netErr.Error()
			change.Attempts = 1
			if err := e.queue.Enqueue(bgCtx, change); err != nil {
				e.log.Error("parking failed change failed", "key", e.codec.KeyString(id), "error", err)
				return
			}
			e.metrics.incPendingEnqueued()
		} else {
			change.LastError = netErr.Error()
			change.Attempts = 1
			if err := e.queue.Update(bgCtx, change); err != nil {
				e.log.Warn("recording change failure failed", "change", change.ID, "error", err)
			}
		}
		e.bumpStatus(bgCtx, EventChangeQueued)
	})
}

func (e *Engine[T, ID]) buildChange(id ID, op ChangeOp, record T) (PendingChange, error) {
	change := PendingChange{
		ID:         uuid.NewString(),
		Key:        e.codec.KeyString(id),
		Op:         op,
		EnqueuedAt: time.Now().UTC(),
	}
	var err error
	if op == OpSave {
		change.Payload, err = e.codec.EncodeRecord(record)
	} else {
		change.Payload, err = e.codec.EncodeID(id)
	}
	return change, err
}

func (e *Engine[T, ID]) bumpStatus(ctx context.Context, event StatusEvent) {
	n, err := e.queue.Len(ctx)
	if err != nil {
		e.log.Warn("reading pending queue depth failed", "error", err)
	}
	e.metrics.setPendingDepth(n)
	e.status.Apply(event, n)
}

// networkSave pushes one record through the breaker and retry schedule and
// returns the confirmed value. When the backend echoes a stored record that
// diverged from what we sent, the conflict resolver reconciles the two
// versions and the resolved winner is the confirmed value.
func (e *Engine[T, ID]) networkSave(ctx context.Context, record T) (T, error) {
	id := e.idFn(record)

	if returning, ok := e.network.(datasource.SaveReturning[T]); ok {
		remote, err := guarded(e, ctx, func(ctx context.Context) (T, error) {
			return returning.SaveReturning(ctx, record)
		})
		if err != nil {
			return record, err
		}
		if diverged(record, remote) {
			return e.reconcile(ctx, id, record, remote)
		}
		return remote, nil
	}

	_, err := guarded(e, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.network.Save(ctx, record)
	})
	return record, err
}

func (e *Engine[T, ID]) networkDelete(ctx context.Context, id ID) error {
	_, err := guarded(e, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.network.Delete(ctx, id)
	})
	return err
}

// reconcile resolves divergent local and remote versions of one record and
// applies the winner to the cache (and, when the client side wins, back to
// the network). It returns the winning value.
func (e *Engine[T, ID]) reconcile(ctx context.Context, id ID, local, remote T) (T, error) {
	key := e.codec.KeyString(id)
	resolution, err := resolveConflict(key, local, remote, e.conflict, e.accessor)
	if err != nil {
		e.metrics.incConflict("unresolved")
		e.bumpStatus(ctx, EventConflictDetected)
		var zero T
		return zero, err
	}

	e.metrics.incConflict("resolved")
	if err := e.cache.Save(ctx, resolution.Winner); err != nil {
		e.log.Warn("caching conflict winner failed", "key", key, "error", err)
	} else {
		e.notifyUpdate(id, resolution.Winner, true)
	}

	if resolution.PushToNetwork {
		if _, err := guarded(e, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.network.Save(ctx, resolution.Winner)
		}); err != nil {
			return resolution.Winner, fmt.Errorf("pushing conflict winner: %w", err)
		}
	}

	e.bumpStatus(ctx, EventConflictResolved)
	return resolution.Winner, nil
}
