package sync

import (
	"context"

	"projectsync/backend"
	"projectsync/backend/sqlite"
	"projectsync/internal/utils"
)

// Pull reconciles the local store with the server listing. Records with
// queued mutations are never touched.
func (e *Engine) Pull(ctx context.Context, limit int) (int, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return 0, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	if !e.online() {
		return 0, ErrOffline
	}
	if limit <= 0 {
		limit = DefaultPullLimit
	}

	runCtx, done := e.attach(ctx)
	defer done()

	return e.pull(runCtx, context.WithoutCancel(ctx), limit)
}

func (e *Engine) pull(ctx, storeCtx context.Context, limit int) (int, error) {
	projects, err := e.remote.ListProjects(ctx, limit)
	if err != nil {
		return 0, err
	}

	// a short page means we saw everything the server has
	complete := len(projects) < limit
	syncedAt := e.now()
	changed := 0

	err = e.db.InTx(storeCtx, func(tx *sqlite.Tx) error {
		store := tx.Store()
		queue := tx.Queue()
		seen := make(map[string]bool, len(projects))

		for i := range projects {
			p := projects[i]
			if p.ID == "" {
				continue
			}
			seen[p.ID] = true

			local, err := store.Get(storeCtx, p.ID)
			if err != nil {
				return err
			}
			if local != nil {
				if local.SyncStatus == backend.SyncStatusPending {
					continue
				}
				queued, err := queue.CountFor(storeCtx, p.ID)
				if err != nil {
					return err
				}
				if queued > 0 {
					continue
				}
			}

			if p.Deleted {
				if local != nil {
					if err := store.Delete(storeCtx, p.ID); err != nil {
						return err
					}
					changed++
				}
				continue
			}

			if local != nil && local.UpdatedAt.Equal(p.UpdatedAt) {
				continue
			}

			p.SyncStatus = backend.SyncStatusSynced
			p.LastSyncedAt = laterOf(syncedAt, p.UpdatedAt)
			p.PendingChanges = nil
			p.LocallyDeleted = false
			if err := store.Put(storeCtx, &p); err != nil {
				return err
			}
			changed++
		}

		if !complete {
			return nil
		}

		locals, err := store.GetAll(storeCtx)
		if err != nil {
			return err
		}
		for _, l := range locals {
			if seen[l.ID] || l.SyncStatus != backend.SyncStatusSynced || backend.IsTemporaryID(l.ID) {
				continue
			}
			queued, err := queue.CountFor(storeCtx, l.ID)
			if err != nil {
				return err
			}
			if queued > 0 {
				continue
			}
			if err := store.Delete(storeCtx, l.ID); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if changed > 0 {
		utils.Debugf("Pull applied %d server changes (%d records listed)", changed, len(projects))
	}
	return changed, nil
}
