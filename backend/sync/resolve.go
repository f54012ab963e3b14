package sync

import (
	"context"
	"errors"
	"fmt"

	"projectsync/backend"
	"projectsync/backend/sqlite"
)

// ErrConflictNotFound is returned for an unknown pending conflict id
var ErrConflictNotFound = errors.New("conflict not found")

// Decision is the outcome an external collaborator picks for a pending conflict
type Decision string

const (
	KeepServer Decision = "keep-server" // drop the queued mutation
	KeepLocal  Decision = "keep-local"  // push the queued mutation over the server state
	UseCustom  Decision = "custom"      // push explicitly supplied fields
)

// ConflictDecision resolves one pending conflict
type ConflictDecision struct {
	Choice Decision
	Fields backend.Fields // required for UseCustom
}

// ResolveConflict applies a decision to a conflict held back by the manual
// strategy. The blocked entry is dropped or rewritten so the next run can
// proceed; no network call is made here.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID int64, d ConflictDecision) error {
	switch d.Choice {
	case KeepServer, KeepLocal:
	case UseCustom:
		if len(d.Fields) == 0 {
			return fmt.Errorf("custom resolution requires fields")
		}
	default:
		return fmt.Errorf("unknown decision %q", d.Choice)
	}

	if !e.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	now := e.now()

	return e.db.InTx(ctx, func(tx *sqlite.Tx) error {
		conflicts := tx.Conflicts()
		queue := tx.Queue()
		store := tx.Store()

		c, err := conflicts.Get(ctx, conflictID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: %d", ErrConflictNotFound, conflictID)
		}
		if c.IsResolved() {
			return fmt.Errorf("conflict %d already resolved (%s)", conflictID, c.Resolution)
		}

		entry, err := queue.Get(ctx, c.EntryID)
		if err != nil {
			return err
		}
		if entry == nil {
			// the entry went away on its own, nothing left to decide
			return conflicts.MarkResolved(ctx, conflictID, "superseded")
		}

		var server *backend.Project
		if c.Server != nil {
			if server, err = backend.ProjectFromFields(c.Server); err != nil {
				return err
			}
		}
		syncedAt := now
		if server != nil {
			syncedAt = laterOf(now, server.UpdatedAt)
		}

		local, err := store.Get(ctx, c.EntityID)
		if err != nil {
			return err
		}

		switch d.Choice {
		case KeepServer:
			if err := queue.Dequeue(ctx, entry.ID); err != nil {
				return err
			}
			remaining, err := queue.CountFor(ctx, c.EntityID)
			if err != nil {
				return err
			}
			if remaining == 0 && server != nil {
				rec := *server
				rec.ID = c.EntityID
				rec.SyncStatus = backend.SyncStatusSynced
				rec.LastSyncedAt = syncedAt
				if err := store.Put(ctx, &rec); err != nil {
					return err
				}
			} else if local != nil {
				local.LastSyncedAt = syncedAt
				if err := store.Put(ctx, local); err != nil {
					return err
				}
			}

		case KeepLocal, UseCustom:
			patch := entry.Payload
			if d.Choice == UseCustom {
				patch = d.Fields
			}
			// rebased on the server state the decision was made against, so the
			// next run only conflicts again if the server moves once more
			payload := ClientOverlay(c.Server, patch)
			if err := queue.UpdatePayload(ctx, entry.ID, payload, c.Server); err != nil {
				return err
			}
			if local != nil {
				updated, err := local.Apply(patch)
				if err != nil {
					return err
				}
				updated.ID = c.EntityID
				updated.LastSyncedAt = syncedAt
				updated.SyncStatus = backend.SyncStatusPending
				if err := store.Put(ctx, updated); err != nil {
					return err
				}
			}
		}

		return conflicts.MarkResolved(ctx, conflictID, string(d.Choice))
	})
}
