package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"projectsync/backend"
)

// PendingConflict is a conflict the configured strategy could not settle.
// Its queue entry stays in place until someone supplies a resolution.
type PendingConflict struct {
	ID         int64
	EntryID    int64
	EntityID   string
	Type       string
	Local      backend.Fields
	Server     backend.Fields
	Payload    backend.Fields
	DetectedAt time.Time
	ResolvedAt time.Time
	Resolution string
}

// IsResolved reports whether a resolution was recorded
func (c *PendingConflict) IsResolved() bool {
	return !c.ResolvedAt.IsZero()
}

// ConflictStore persists conflicts awaiting a manual decision
type ConflictStore struct {
	q querier
}

const conflictColumns = `id, entry_id, entity_id, conflict_type, local, server, payload, detected_at, resolved_at, resolution`

// Add records c. If the entry already has an open conflict it is refreshed
// with the latest server state instead of duplicated.
func (s *ConflictStore) Add(ctx context.Context, c PendingConflict) (int64, error) {
	local, err := marshalFields(c.Local)
	if err != nil {
		return 0, &StoreError{Op: "AddConflict", EntityID: c.EntityID, Err: err}
	}
	server, err := marshalFields(c.Server)
	if err != nil {
		return 0, &StoreError{Op: "AddConflict", EntityID: c.EntityID, Err: err}
	}
	payload, err := marshalFields(c.Payload)
	if err != nil {
		return 0, &StoreError{Op: "AddConflict", EntityID: c.EntityID, Err: err}
	}
	detected := c.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}

	var existing int64
	err = s.q.QueryRowContext(ctx,
		`SELECT id FROM pending_conflicts WHERE entry_id = ? AND resolved_at IS NULL`, c.EntryID,
	).Scan(&existing)
	switch {
	case err == nil:
		_, err = s.q.ExecContext(ctx, `
			UPDATE pending_conflicts
			SET entity_id = ?, conflict_type = ?, local = ?, server = ?, payload = ?, detected_at = ?
			WHERE id = ?
		`, c.EntityID, c.Type, local, server, payload, detected.UnixNano(), existing)
		if err != nil {
			return 0, &StoreError{Op: "AddConflict", EntityID: c.EntityID, Err: err}
		}
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, &StoreError{Op: "AddConflict", EntityID: c.EntityID, Err: err}
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO pending_conflicts (entry_id, entity_id, conflict_type, local, server, payload, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.EntryID, c.EntityID, c.Type, local, server, payload, detected.UnixNano())
	if err != nil {
		return 0, &StoreError{Op: "AddConflict", EntityID: c.EntityID, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StoreError{Op: "AddConflict", EntityID: c.EntityID, Err: err}
	}
	return id, nil
}

// Get returns a conflict by id, or nil when it does not exist
func (s *ConflictStore) Get(ctx context.Context, id int64) (*PendingConflict, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM pending_conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "GetConflict", Err: err}
	}
	return c, nil
}

// ListOpen returns unresolved conflicts, oldest first
func (s *ConflictStore) ListOpen(ctx context.Context) ([]PendingConflict, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM pending_conflicts WHERE resolved_at IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, &StoreError{Op: "ListConflicts", Err: err}
	}
	defer rows.Close()

	var out []PendingConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, &StoreError{Op: "ListConflicts", Err: err}
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "ListConflicts", Err: err}
	}
	return out, nil
}

// MarkResolved closes a conflict with the given resolution label
func (s *ConflictStore) MarkResolved(ctx context.Context, id int64, resolution string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE pending_conflicts SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL
	`, time.Now().UnixNano(), resolution, id)
	if err != nil {
		return &StoreError{Op: "ResolveConflict", Err: err}
	}
	return nil
}

// CloseForEntry resolves any open conflict of an entry, used when the entry
// goes away for another reason (for example a later successful retry).
func (s *ConflictStore) CloseForEntry(ctx context.Context, entryID int64, resolution string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE pending_conflicts SET resolved_at = ?, resolution = ? WHERE entry_id = ? AND resolved_at IS NULL
	`, time.Now().UnixNano(), resolution, entryID)
	if err != nil {
		return &StoreError{Op: "CloseConflicts", Err: err}
	}
	return nil
}

func scanConflict(row rowScanner) (*PendingConflict, error) {
	var (
		c                      PendingConflict
		local, server, payload sql.NullString
		detectedAt             int64
		resolvedAt             sql.NullInt64
		resolution             sql.NullString
	)
	if err := row.Scan(&c.ID, &c.EntryID, &c.EntityID, &c.Type, &local, &server, &payload, &detectedAt, &resolvedAt, &resolution); err != nil {
		return nil, err
	}
	c.DetectedAt = time.Unix(0, detectedAt)
	c.ResolvedAt = nullInt64ToTime(resolvedAt)
	c.Resolution = resolution.String

	var err error
	if c.Local, err = unmarshalFields(local); err != nil {
		return nil, err
	}
	if c.Server, err = unmarshalFields(server); err != nil {
		return nil, err
	}
	if c.Payload, err = unmarshalFields(payload); err != nil {
		return nil, err
	}
	return &c, nil
}
