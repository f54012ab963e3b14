package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"projectsync/backend"
)

// Store is the local project table. It only persists records; it never talks
// to the network or the operation queue.
type Store struct {
	q querier
}

const projectColumns = `id, data, sync_status, last_synced_at, pending_changes, locally_deleted`

// Get returns the project with the given id, or nil when it does not exist.
// Locally deleted records awaiting server confirmation are returned too.
func (s *Store) Get(ctx context.Context, id string) (*backend.Project, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "Get", EntityID: id, Err: err}
	}
	return p, nil
}

// GetAll returns every project that is not locally deleted
func (s *Store) GetAll(ctx context.Context) ([]backend.Project, error) {
	projects, err := s.query(ctx, `SELECT `+projectColumns+` FROM projects WHERE locally_deleted = 0 ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, &StoreError{Op: "GetAll", Err: err}
	}
	return projects, nil
}

// Put inserts or overwrites p
func (s *Store) Put(ctx context.Context, p *backend.Project) error {
	if p.ID == "" {
		return &StoreError{Op: "Put", Err: fmt.Errorf("project id is required")}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return &StoreError{Op: "Put", EntityID: p.ID, Err: err}
	}

	var pending sql.NullString
	if len(p.PendingChanges) > 0 {
		encoded, err := json.Marshal(p.PendingChanges)
		if err != nil {
			return &StoreError{Op: "Put", EntityID: p.ID, Err: err}
		}
		pending = sql.NullString{String: string(encoded), Valid: true}
	}

	status := p.SyncStatus
	if status == "" {
		status = backend.SyncStatusSynced
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO projects (
			id, name, status, type, client_name, created_by, data,
			created_at, updated_at, sync_status, last_synced_at, pending_changes, locally_deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			type = excluded.type,
			client_name = excluded.client_name,
			created_by = excluded.created_by,
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			last_synced_at = excluded.last_synced_at,
			pending_changes = excluded.pending_changes,
			locally_deleted = excluded.locally_deleted
	`,
		p.ID,
		p.Name,
		nullString(p.Status),
		nullString(p.Type),
		nullString(p.Client.Name),
		nullString(p.CreatedBy),
		string(data),
		timeToNullInt64(p.CreatedAt),
		timeToNullInt64(p.UpdatedAt),
		string(status),
		timeToNullInt64(p.LastSyncedAt),
		pending,
		boolToInt(p.LocallyDeleted),
	)
	if err != nil {
		return &StoreError{Op: "Put", EntityID: p.ID, Err: err}
	}
	return nil
}

// Delete removes the project. Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return &StoreError{Op: "Delete", EntityID: id, Err: err}
	}
	return nil
}

// QueryByFilter returns the non-deleted projects matching every set filter.
// Equality filters use the indexes; text filters are case-insensitive
// containment checks evaluated after the query.
func (s *Store) QueryByFilter(ctx context.Context, filter backend.ProjectFilter) ([]backend.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE locally_deleted = 0`
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.CreatedBy != "" {
		query += " AND created_by = ?"
		args = append(args, filter.CreatedBy)
	}
	query += " ORDER BY name ASC, id ASC"

	projects, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "QueryByFilter", Err: err}
	}

	if filter.ClientSubstring == "" && filter.SearchText == "" {
		return projects, nil
	}

	matched := projects[:0]
	for i := range projects {
		if filter.Matches(&projects[i]) {
			matched = append(matched, projects[i])
		}
	}
	return matched, nil
}

// ReplaceID moves a project to the id the server assigned it. An existing row
// under newID is overwritten.
func (s *Store) ReplaceID(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, newID); err != nil {
		return &StoreError{Op: "ReplaceID", EntityID: newID, Err: err}
	}
	if _, err := s.q.ExecContext(ctx, `UPDATE projects SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		return &StoreError{Op: "ReplaceID", EntityID: oldID, Err: err}
	}
	return nil
}

// SetSyncStatus updates only the sync status of a project
func (s *Store) SetSyncStatus(ctx context.Context, id string, status backend.SyncStatus) error {
	_, err := s.q.ExecContext(ctx, `UPDATE projects SET sync_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return &StoreError{Op: "SetSyncStatus", EntityID: id, Err: err}
	}
	return nil
}

// Count returns the number of non-deleted projects
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE locally_deleted = 0`).Scan(&n); err != nil {
		return 0, &StoreError{Op: "Count", Err: err}
	}
	return n, nil
}

// CountByStatus returns how many projects carry each sync status
func (s *Store) CountByStatus(ctx context.Context) (map[backend.SyncStatus]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM projects GROUP BY sync_status`)
	if err != nil {
		return nil, &StoreError{Op: "CountByStatus", Err: err}
	}
	defer rows.Close()

	counts := make(map[backend.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &StoreError{Op: "CountByStatus", Err: err}
		}
		counts[backend.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "CountByStatus", Err: err}
	}
	return counts, nil
}

// PurgeSynced removes synced projects whose last server agreement is older than
// before. Pending and failed records are never purged.
func (s *Store) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM projects
		WHERE sync_status = 'synced' AND last_synced_at IS NOT NULL AND last_synced_at < ?
	`, before.UnixNano())
	if err != nil {
		return 0, &StoreError{Op: "PurgeSynced", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]backend.Project, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []backend.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*backend.Project, error) {
	var (
		id             string
		data           string
		status         string
		lastSyncedAt   sql.NullInt64
		pendingChanges sql.NullString
		locallyDeleted int
	)
	if err := row.Scan(&id, &data, &status, &lastSyncedAt, &pendingChanges, &locallyDeleted); err != nil {
		return nil, err
	}

	var p backend.Project
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("corrupt project data for %s: %w", id, err)
	}
	p.ID = id
	p.SyncStatus = backend.SyncStatus(status)
	p.LastSyncedAt = nullInt64ToTime(lastSyncedAt)
	p.LocallyDeleted = locallyDeleted == 1

	if pendingChanges.Valid && strings.TrimSpace(pendingChanges.String) != "" {
		if err := json.Unmarshal([]byte(pendingChanges.String), &p.PendingChanges); err != nil {
			return nil, fmt.Errorf("corrupt pending changes for %s: %w", id, err)
		}
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
