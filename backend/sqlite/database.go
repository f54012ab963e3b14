package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// StoreError represents errors from local storage operations
type StoreError struct {
	Op       string // Operation that failed
	Err      error  // Underlying error
	EntityID string // Optional: project id if relevant
}

func (e *StoreError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("sqlite %s failed for project %s: %v", e.Op, e.EntityID, e.Err)
	}
	return fmt.Sprintf("sqlite %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// querier is satisfied by both *sql.DB and *sql.Tx so every store can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database wraps sql.DB with helper methods for schema management
type Database struct {
	*sql.DB
	path string
}

// Open initializes the SQLite database with proper schema.
// An empty path resolves to the XDG data directory.
func Open(customPath string) (*Database, error) {
	dbPath, err := getDatabasePath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}

	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps pragmas in effect for every statement and
	// serializes writers the same way the store expects.
	db.SetMaxOpenConns(1)

	database := &Database{
		DB:   db,
		path: dbPath,
	}

	if err := database.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// getDatabasePath returns the path to the SQLite database file
// Priority: customPath > $XDG_DATA_HOME/projectsync/projects.db > ~/.local/share/projectsync/projects.db
func getDatabasePath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}

	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "projectsync", "projects.db"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".local", "share", "projectsync", "projects.db"), nil
}

// initializeSchema creates all tables, indexes, and sets pragmas
func (db *Database) initializeSchema() error {
	for _, pragma := range PragmaStatements() {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	for _, schema := range AllTableSchemas() {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, index := range AllIndexes() {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := db.recordSchemaVersion(); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// recordSchemaVersion records the current schema version in the database
func (db *Database) recordSchemaVersion() error {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", SchemaVersion).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if count > 0 {
		return nil
	}

	_, err = db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}

	return nil
}

// GetSchemaVersion returns the current schema version from the database
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}

// Vacuum runs VACUUM to optimize the database
func (db *Database) Vacuum() error {
	_, err := db.Exec("VACUUM")
	return err
}

// Store returns the project store bound to the database
func (db *Database) Store() *Store {
	return &Store{q: db.DB}
}

// Queue returns the operation queue bound to the database
func (db *Database) Queue() *Queue {
	return &Queue{q: db.DB}
}

// Metadata returns the sync metadata store bound to the database
func (db *Database) Metadata() *MetadataStore {
	return &MetadataStore{q: db.DB}
}

// Conflicts returns the pending conflict store bound to the database
func (db *Database) Conflicts() *ConflictStore {
	return &ConflictStore{q: db.DB}
}

// Tx exposes the stores bound to one transaction
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Store() *Store { return &Store{q: t.tx} }
func (t *Tx) Queue() *Queue { return &Queue{q: t.tx} }
func (t *Tx) Metadata() *MetadataStore { return &MetadataStore{q: t.tx} }
func (t *Tx) Conflicts() *ConflictStore { return &ConflictStore{q: t.tx} }

// InTx runs fn in a transaction, committing when it returns nil.
// Stores obtained from the Database must not be used inside fn.
func (db *Database) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "begin", Err: err}
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	return nil
}

// GetStats returns basic database statistics
func (db *Database) GetStats(ctx context.Context, maxRetries int) (DatabaseStats, error) {
	stats := DatabaseStats{}

	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects WHERE locally_deleted = 0").Scan(&stats.ProjectCount)
	if err != nil {
		return stats, fmt.Errorf("failed to count projects: %w", err)
	}

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects WHERE sync_status = 'pending'").Scan(&stats.PendingProjects)
	if err != nil {
		return stats, fmt.Errorf("failed to count pending projects: %w", err)
	}

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects WHERE sync_status = 'failed'").Scan(&stats.FailedProjects)
	if err != nil {
		return stats, fmt.Errorf("failed to count failed projects: %w", err)
	}

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue WHERE retry_count < ?", maxRetries).Scan(&stats.PendingSyncOps)
	if err != nil {
		return stats, fmt.Errorf("failed to count pending sync operations: %w", err)
	}

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue WHERE retry_count >= ?", maxRetries).Scan(&stats.DeadLetters)
	if err != nil {
		return stats, fmt.Errorf("failed to count dead letters: %w", err)
	}

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_conflicts WHERE resolved_at IS NULL").Scan(&stats.OpenConflicts)
	if err != nil {
		return stats, fmt.Errorf("failed to count open conflicts: %w", err)
	}

	fileInfo, err := os.Stat(db.path)
	if err != nil {
		return stats, fmt.Errorf("failed to stat database file: %w", err)
	}
	stats.DatabaseSize = fileInfo.Size()

	return stats, nil
}

// DatabaseStats holds statistics about the database
type DatabaseStats struct {
	ProjectCount    int
	PendingProjects int
	FailedProjects  int
	PendingSyncOps  int
	DeadLetters     int
	OpenConflicts   int
	DatabaseSize    int64 // in bytes
}

// String returns a human-readable representation of database statistics
func (s DatabaseStats) String() string {
	sizeMB := float64(s.DatabaseSize) / (1024 * 1024)
	return fmt.Sprintf(
		"Projects: %d | Pending: %d | Failed: %d | Queued: %d | Dead letters: %d | Conflicts: %d | Size: %.2f MB",
		s.ProjectCount, s.PendingProjects, s.FailedProjects, s.PendingSyncOps, s.DeadLetters, s.OpenConflicts, sizeMB,
	)
}

// timeToNullInt64 stores t as unix nanoseconds, NULL for the zero time
func timeToNullInt64(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// nullInt64ToTime is the inverse of timeToNullInt64
func nullInt64ToTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
