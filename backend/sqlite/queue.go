package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"projectsync/backend"
)

// Entry is one durable mutation waiting to be replayed against the server
type Entry struct {
	ID          int64
	Operation   backend.Operation
	EntityID    string
	Payload     backend.Fields // nil for deletes
	Base        backend.Fields // record before the mutation, nil for creates
	CreatedAt   time.Time
	RetryCount  int
	LastAttempt time.Time
	LastError   string
}

// Queue is the append-only operation log. Entries are never merged; the
// autoincrement id is the processing order.
type Queue struct {
	q querier
}

const entryColumns = `id, entity_id, operation, payload, base, created_at, retry_count, last_attempt, last_error`

// Enqueue appends an entry and returns its id
func (q *Queue) Enqueue(ctx context.Context, op backend.Operation, entityID string, payload, base backend.Fields) (int64, error) {
	switch op {
	case backend.OperationCreate, backend.OperationUpdate, backend.OperationDelete:
	default:
		return 0, &StoreError{Op: "Enqueue", EntityID: entityID, Err: fmt.Errorf("unknown operation %q", op)}
	}

	payloadJSON, err := marshalFields(payload)
	if err != nil {
		return 0, &StoreError{Op: "Enqueue", EntityID: entityID, Err: err}
	}
	baseJSON, err := marshalFields(base)
	if err != nil {
		return 0, &StoreError{Op: "Enqueue", EntityID: entityID, Err: err}
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_id, operation, payload, base, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, 0)
	`, entityID, string(op), payloadJSON, baseJSON, time.Now().UnixNano())
	if err != nil {
		return 0, &StoreError{Op: "Enqueue", EntityID: entityID, Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StoreError{Op: "Enqueue", EntityID: entityID, Err: err}
	}
	return id, nil
}

// Dequeue removes an entry. Removing a missing entry is a no-op.
func (q *Queue) Dequeue(ctx context.Context, entryID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, entryID); err != nil {
		return &StoreError{Op: "Dequeue", Err: err}
	}
	return nil
}

// IncrementRetry charges one failed attempt to the entry and returns the new count
func (q *Queue) IncrementRetry(ctx context.Context, entryID int64, errMsg string) (int, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1, last_attempt = ?, last_error = ?
		WHERE id = ?
	`, time.Now().UnixNano(), nullString(errMsg), entryID)
	if err != nil {
		return 0, &StoreError{Op: "IncrementRetry", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, &StoreError{Op: "IncrementRetry", Err: fmt.Errorf("queue entry %d not found", entryID)}
	}

	var count int
	if err := q.q.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, entryID).Scan(&count); err != nil {
		return 0, &StoreError{Op: "IncrementRetry", Err: err}
	}
	return count, nil
}

// Pending returns the entries still eligible for processing, in enqueue order
func (q *Queue) Pending(ctx context.Context, maxRetry int) ([]Entry, error) {
	entries, err := q.query(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE retry_count < ? ORDER BY id ASC`, maxRetry)
	if err != nil {
		return nil, &StoreError{Op: "Pending", Err: err}
	}
	return entries, nil
}

// All returns every entry including dead letters
func (q *Queue) All(ctx context.Context) ([]Entry, error) {
	entries, err := q.query(ctx, `SELECT `+entryColumns+` FROM sync_queue ORDER BY id ASC`)
	if err != nil {
		return nil, &StoreError{Op: "All", Err: err}
	}
	return entries, nil
}

// DeadLetters returns entries that reached the retry ceiling
func (q *Queue) DeadLetters(ctx context.Context, maxRetry int) ([]Entry, error) {
	entries, err := q.query(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE retry_count >= ? ORDER BY id ASC`, maxRetry)
	if err != nil {
		return nil, &StoreError{Op: "DeadLetters", Err: err}
	}
	return entries, nil
}

// Get returns a single entry, or nil when it does not exist
func (q *Queue) Get(ctx context.Context, entryID int64) (*Entry, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE id = ?`, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "Get", Err: err}
	}
	return e, nil
}

// CountFor returns how many entries (dead letters included) reference entityID
func (q *Queue) CountFor(ctx context.Context, entityID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE entity_id = ?`, entityID).Scan(&n)
	if err != nil {
		return 0, &StoreError{Op: "CountFor", EntityID: entityID, Err: err}
	}
	return n, nil
}

// Count returns the total number of entries
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, &StoreError{Op: "Count", Err: err}
	}
	return n, nil
}

// RewriteEntityID points the remaining entries of a temporary id at the
// server-issued one
func (q *Queue) RewriteEntityID(ctx context.Context, oldID, newID string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE sync_queue SET entity_id = ? WHERE entity_id = ?`, newID, oldID)
	if err != nil {
		return &StoreError{Op: "RewriteEntityID", EntityID: oldID, Err: err}
	}
	return nil
}

// UpdatePayload replaces the payload and base snapshot of an entry
func (q *Queue) UpdatePayload(ctx context.Context, entryID int64, payload, base backend.Fields) error {
	payloadJSON, err := marshalFields(payload)
	if err != nil {
		return &StoreError{Op: "UpdatePayload", Err: err}
	}
	baseJSON, err := marshalFields(base)
	if err != nil {
		return &StoreError{Op: "UpdatePayload", Err: err}
	}
	_, err = q.q.ExecContext(ctx, `UPDATE sync_queue SET payload = ?, base = ? WHERE id = ?`, payloadJSON, baseJSON, entryID)
	if err != nil {
		return &StoreError{Op: "UpdatePayload", Err: err}
	}
	return nil
}

// ResetRetries gives every dead letter a fresh set of attempts and returns
// the ids of the affected entities
func (q *Queue) ResetRetries(ctx context.Context, maxRetry int) ([]string, error) {
	dead, err := q.DeadLetters(ctx, maxRetry)
	if err != nil {
		return nil, err
	}
	if len(dead) == 0 {
		return nil, nil
	}

	if _, err := q.q.ExecContext(ctx, `
		UPDATE sync_queue SET retry_count = 0, last_error = NULL WHERE retry_count >= ?
	`, maxRetry); err != nil {
		return nil, &StoreError{Op: "ResetRetries", Err: err}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, e := range dead {
		if !seen[e.EntityID] {
			seen[e.EntityID] = true
			ids = append(ids, e.EntityID)
		}
	}
	return ids, nil
}

// PurgeDeadLetters deletes dead letters enqueued before the cutoff. A zero
// cutoff purges all of them.
func (q *Queue) PurgeDeadLetters(ctx context.Context, maxRetry int, before time.Time) (int64, error) {
	query := `DELETE FROM sync_queue WHERE retry_count >= ?`
	args := []any{maxRetry}
	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, before.UnixNano())
	}

	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &StoreError{Op: "PurgeDeadLetters", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear removes every entry
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return 0, &StoreError{Op: "Clear", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (q *Queue) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e           Entry
		op          string
		payload     sql.NullString
		base        sql.NullString
		createdAt   int64
		lastAttempt sql.NullInt64
		lastError   sql.NullString
	)
	if err := row.Scan(&e.ID, &e.EntityID, &op, &payload, &base, &createdAt, &e.RetryCount, &lastAttempt, &lastError); err != nil {
		return nil, err
	}

	e.Operation = backend.Operation(op)
	e.CreatedAt = time.Unix(0, createdAt)
	e.LastAttempt = nullInt64ToTime(lastAttempt)
	e.LastError = lastError.String

	var err error
	if e.Payload, err = unmarshalFields(payload); err != nil {
		return nil, fmt.Errorf("corrupt payload for queue entry %d: %w", e.ID, err)
	}
	if e.Base, err = unmarshalFields(base); err != nil {
		return nil, fmt.Errorf("corrupt base for queue entry %d: %w", e.ID, err)
	}
	return &e, nil
}

func marshalFields(f backend.Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalFields(s sql.NullString) (backend.Fields, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var f backend.Fields
	if err := json.Unmarshal([]byte(s.String), &f); err != nil {
		return nil, err
	}
	return f, nil
}
