package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// openTestDatabase opens a fresh database under t.TempDir
func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDatabase(t)

	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Errorf("Database file was not created")
	}

	version, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion() error = %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}

	for _, table := range []string{"projects", "sync_queue", "sync_metadata", "pending_conflicts", "schema_version"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 2; i++ {
		db, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i+1, err)
		}
		db.Close()
	}
}

func TestGetDatabasePath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	got, err := getDatabasePath("")
	if err != nil {
		t.Fatalf("getDatabasePath() error = %v", err)
	}
	if got != filepath.Join("/tmp/xdg-data", "projectsync", "projects.db") {
		t.Errorf("getDatabasePath() = %q", got)
	}

	got, _ = getDatabasePath("/custom/path.db")
	if got != "/custom/path.db" {
		t.Errorf("custom path ignored, got %q", got)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx *Tx) error {
		if err := tx.Store().Put(ctx, testProject("p1", "Rolled back")); err != nil {
			return err
		}
		if _, err := tx.Queue().Enqueue(ctx, "update", "p1", nil, nil); err != nil {
			return err
		}
		return os.ErrInvalid
	})
	if err != os.ErrInvalid {
		t.Fatalf("InTx() error = %v, want %v", err, os.ErrInvalid)
	}

	p, err := db.Store().Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p != nil {
		t.Errorf("project survived a rolled back transaction")
	}
	n, _ := db.Queue().Count(ctx)
	if n != 0 {
		t.Errorf("queue has %d entries after rollback, want 0", n)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	pending := testProject("p1", "Pending")
	pending.SyncStatus = "pending"
	if err := db.Store().Put(ctx, pending); err != nil {
		t.Fatal(err)
	}
	if err := db.Store().Put(ctx, testProject("p2", "Synced")); err != nil {
		t.Fatal(err)
	}
	id, _ := db.Queue().Enqueue(ctx, "update", "p1", nil, nil)
	for i := 0; i < 3; i++ {
		if _, err := db.Queue().IncrementRetry(ctx, id, "boom"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Queue().Enqueue(ctx, "update", "p2", nil, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := db.GetStats(ctx, 3)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.ProjectCount != 2 || stats.PendingProjects != 1 {
		t.Errorf("unexpected project counts: %+v", stats)
	}
	if stats.PendingSyncOps != 1 || stats.DeadLetters != 1 {
		t.Errorf("unexpected queue counts: %+v", stats)
	}
	if !strings.Contains(stats.String(), "Dead letters: 1") {
		t.Errorf("String() = %q", stats.String())
	}
}
