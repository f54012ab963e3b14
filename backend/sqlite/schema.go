package sqlite

// Schema version for migration management
const SchemaVersion = 1

// SQL statements for database schema creation

// ProjectsTableSQL creates the projects table. The full domain payload lives in
// data as JSON; the columns next to it exist for the secondary indexes.
const ProjectsTableSQL = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT,
    type TEXT,
    client_name TEXT,
    created_by TEXT,
    data TEXT NOT NULL,
    created_at INTEGER,
    updated_at INTEGER,

    -- Sync state, owned by the sync engine
    sync_status TEXT NOT NULL DEFAULT 'synced' CHECK(sync_status IN ('synced', 'pending', 'failed')),
    last_synced_at INTEGER,
    pending_changes TEXT,
    locally_deleted INTEGER DEFAULT 0
);
`

// SyncQueueTableSQL creates the operation queue. Entries are never deduplicated;
// the autoincrement id is the processing order.
const SyncQueueTableSQL = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL CHECK(operation IN ('create', 'update', 'delete')),
    payload TEXT,
    base TEXT,
    created_at INTEGER NOT NULL,
    retry_count INTEGER DEFAULT 0,
    last_attempt INTEGER,
    last_error TEXT
);
`

// SyncMetadataTableSQL creates the key-value metadata table
const SyncMetadataTableSQL = `
CREATE TABLE IF NOT EXISTS sync_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// PendingConflictsTableSQL creates the table of conflicts awaiting a manual decision
const PendingConflictsTableSQL = `
CREATE TABLE IF NOT EXISTS pending_conflicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id INTEGER NOT NULL,
    entity_id TEXT NOT NULL,
    conflict_type TEXT NOT NULL,
    local TEXT,
    server TEXT,
    payload TEXT,
    detected_at INTEGER NOT NULL,
    resolved_at INTEGER,
    resolution TEXT
);
`

// SchemaVersionTableSQL creates the schema version table for migration tracking
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// Index creation statements for performance optimization

// ProjectsIndexesSQL creates indexes backing the filter/search surface
const ProjectsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_projects_sync_status ON projects(sync_status);
CREATE INDEX IF NOT EXISTS idx_projects_type ON projects(type);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_projects_created_by ON projects(created_by);
CREATE INDEX IF NOT EXISTS idx_projects_client_name ON projects(client_name);
`

// SyncQueueIndexesSQL creates indexes on sync_queue table
const SyncQueueIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sync_queue_entity_id ON sync_queue(entity_id);
CREATE INDEX IF NOT EXISTS idx_sync_queue_retry_count ON sync_queue(retry_count);
`

// PendingConflictsIndexesSQL creates indexes on pending_conflicts table
const PendingConflictsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_pending_conflicts_entity_id ON pending_conflicts(entity_id);
CREATE INDEX IF NOT EXISTS idx_pending_conflicts_entry_id ON pending_conflicts(entry_id);
`

// AllTableSchemas returns all table creation statements in order
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		ProjectsTableSQL,
		SyncQueueTableSQL,
		SyncMetadataTableSQL,
		PendingConflictsTableSQL,
	}
}

// AllIndexes returns all index creation statements
func AllIndexes() []string {
	return []string{
		ProjectsIndexesSQL,
		SyncQueueIndexesSQL,
		PendingConflictsIndexesSQL,
	}
}

// PragmaStatements returns pragma statements to execute on database connection
func PragmaStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and performance
		"PRAGMA busy_timeout = 5000",
	}
}
