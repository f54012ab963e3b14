package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"projectsync/backend"
	"projectsync/backend/sqlite"
)

// ErrProjectNotFound is returned when mutating a project the store does not hold
var ErrProjectNotFound = errors.New("project not found")

// Mutator is the write path for project records. Every mutation updates the
// local store optimistically and appends to the operation queue in the same
// transaction.
type Mutator struct {
	db  *sqlite.Database
	now func() time.Time
}

// NewMutator creates a mutator over db
func NewMutator(db *sqlite.Database) *Mutator {
	return &Mutator{db: db, now: time.Now}
}

// CreateProject stores a new project under a temporary id and queues its creation
func (m *Mutator) CreateProject(ctx context.Context, fields backend.Fields) (*backend.Project, error) {
	payload := cleanPatch(fields)

	p, err := backend.ProjectFromFields(payload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("project name is required")
	}

	now := m.now()
	p.ID = backend.NewTemporaryID()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.SyncStatus = backend.SyncStatusPending
	p.PendingChanges = []backend.PendingChange{{
		Operation: backend.OperationCreate,
		Timestamp: now,
		Snapshot:  payload.Clone(),
	}}

	err = m.db.InTx(ctx, func(tx *sqlite.Tx) error {
		if err := tx.Store().Put(ctx, p); err != nil {
			return err
		}
		_, err := tx.Queue().Enqueue(ctx, backend.OperationCreate, p.ID, payload, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProject applies patch locally and queues it
func (m *Mutator) UpdateProject(ctx context.Context, id string, patch backend.Fields) (*backend.Project, error) {
	patch = cleanPatch(patch)
	if len(patch) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	var updated *backend.Project
	err := m.db.InTx(ctx, func(tx *sqlite.Tx) error {
		store := tx.Store()

		current, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if current == nil || current.LocallyDeleted {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}

		base := current.Fields()
		updated, err = current.Apply(patch)
		if err != nil {
			return err
		}

		now := m.now()
		updated.ID = id
		updated.CreatedAt = current.CreatedAt
		updated.UpdatedAt = now
		updated.SyncStatus = queuedStatus(current.SyncStatus)
		updated.PendingChanges = append(updated.PendingChanges, backend.PendingChange{
			Operation: backend.OperationUpdate,
			Timestamp: now,
			Snapshot:  patch.Clone(),
		})

		if err := store.Put(ctx, updated); err != nil {
			return err
		}
		_, err = tx.Queue().Enqueue(ctx, backend.OperationUpdate, id, patch, base)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject tombstones the project locally and queues the delete. The
// record disappears once the server confirms.
func (m *Mutator) DeleteProject(ctx context.Context, id string) error {
	return m.db.InTx(ctx, func(tx *sqlite.Tx) error {
		store := tx.Store()

		current, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if current == nil || current.LocallyDeleted {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}

		base := current.Fields()
		now := m.now()
		current.LocallyDeleted = true
		current.SyncStatus = queuedStatus(current.SyncStatus)
		current.PendingChanges = append(current.PendingChanges, backend.PendingChange{
			Operation: backend.OperationDelete,
			Timestamp: now,
		})

		if err := store.Put(ctx, current); err != nil {
			return err
		}
		_, err = tx.Queue().Enqueue(ctx, backend.OperationDelete, id, nil, base)
		return err
	})
}

// cleanPatch drops the fields owned by the server
func cleanPatch(f backend.Fields) backend.Fields {
	out := f.Clone()
	if out == nil {
		return backend.Fields{}
	}
	for _, k := range []string{"id", "createdAt", "updatedAt"} {
		delete(out, k)
	}
	return out
}

// queuedStatus is the status of a record after another entry is queued for it.
// A failed record keeps its status: its dead letter still holds the new entry back.
func queuedStatus(current backend.SyncStatus) backend.SyncStatus {
	if current == backend.SyncStatusFailed {
		return backend.SyncStatusFailed
	}
	return backend.SyncStatusPending
}
