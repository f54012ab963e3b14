package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const syncStateKey = "sync_state"

// RunSummary describes the outcome of the most recent sync run
type RunSummary struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Aborted    bool          `json:"aborted,omitempty"`
	Processed  int           `json:"processed"`
	Conflicts  int           `json:"conflicts"`
	Errors     int           `json:"errors"`
	Deferred   int           `json:"deferred,omitempty"`
	Pulled     int           `json:"pulled,omitempty"`
	LastErrMsg string        `json:"lastError,omitempty"`
}

// SyncState is the persisted sync metadata. It is rewritten after every run
// and never deleted.
type SyncState struct {
	LastSuccessfulSync time.Time   `json:"lastSuccessfulSync"`
	SyncVersion        int64       `json:"syncVersion"`
	ConflictsResolved  int64       `json:"conflictsResolved"`
	SyncRuns           int64       `json:"syncRuns"`
	TotalErrors        int64       `json:"totalErrors"`
	LastResult         *RunSummary `json:"lastResult,omitempty"`
}

// MetadataStore reads and writes the sync_metadata table
type MetadataStore struct {
	q querier
}

// Get returns the stored sync state, or the zero state when none was written yet
func (m *MetadataStore) Get(ctx context.Context) (SyncState, error) {
	var state SyncState
	var value string
	err := m.q.QueryRowContext(ctx, `SELECT value FROM sync_metadata WHERE key = ?`, syncStateKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, &StoreError{Op: "GetMetadata", Err: err}
	}
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return state, &StoreError{Op: "GetMetadata", Err: err}
	}
	return state, nil
}

// Put overwrites the stored sync state
func (m *MetadataStore) Put(ctx context.Context, state SyncState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &StoreError{Op: "PutMetadata", Err: err}
	}
	_, err = m.q.ExecContext(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, syncStateKey, string(data), time.Now().UnixNano())
	if err != nil {
		return &StoreError{Op: "PutMetadata", Err: err}
	}
	return nil
}
