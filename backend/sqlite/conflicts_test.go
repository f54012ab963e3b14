package sqlite

import (
	"context"
	"testing"

	"projectsync/backend"
)

func TestConflictStoreAddListResolve(t *testing.T) {
	db := openTestDatabase(t)
	conflicts := db.Conflicts()
	ctx := context.Background()

	id, err := conflicts.Add(ctx, PendingConflict{
		EntryID:  7,
		EntityID: "p1",
		Type:     "version",
		Local:    backend.Fields{"name": "mine"},
		Server:   backend.Fields{"name": "theirs"},
		Payload:  backend.Fields{"name": "mine"},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	open, err := conflicts.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen() error = %v", err)
	}
	if len(open) != 1 || open[0].ID != id || open[0].Server["name"] != "theirs" {
		t.Fatalf("ListOpen() = %+v", open)
	}
	if open[0].IsResolved() || open[0].DetectedAt.IsZero() {
		t.Errorf("fresh conflict state wrong: %+v", open[0])
	}

	if err := conflicts.MarkResolved(ctx, id, "keep-server"); err != nil {
		t.Fatalf("MarkResolved() error = %v", err)
	}
	got, _ := conflicts.Get(ctx, id)
	if got == nil || !got.IsResolved() || got.Resolution != "keep-server" {
		t.Errorf("Get() after resolve = %+v", got)
	}
	if open, _ := conflicts.ListOpen(ctx); len(open) != 0 {
		t.Errorf("resolved conflict still open: %+v", open)
	}
}

func TestConflictStoreAddRefreshesOpenConflict(t *testing.T) {
	db := openTestDatabase(t)
	conflicts := db.Conflicts()
	ctx := context.Background()

	first, _ := conflicts.Add(ctx, PendingConflict{EntryID: 3, EntityID: "p1", Type: "version", Server: backend.Fields{"name": "v1"}})
	second, err := conflicts.Add(ctx, PendingConflict{EntryID: 3, EntityID: "p1", Type: "field", Server: backend.Fields{"name": "v2"}})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if first != second {
		t.Errorf("Add() created a duplicate: %d != %d", first, second)
	}

	got, _ := conflicts.Get(ctx, first)
	if got.Type != "field" || got.Server["name"] != "v2" {
		t.Errorf("conflict not refreshed: %+v", got)
	}

	if err := conflicts.CloseForEntry(ctx, 3, "superseded"); err != nil {
		t.Fatalf("CloseForEntry() error = %v", err)
	}
	third, _ := conflicts.Add(ctx, PendingConflict{EntryID: 3, EntityID: "p1", Type: "version"})
	if third == first {
		t.Error("Add() after close reused a resolved conflict")
	}
}

func TestConflictStoreGetMissing(t *testing.T) {
	db := openTestDatabase(t)
	got, err := db.Conflicts().Get(context.Background(), 42)
	if err != nil || got != nil {
		t.Errorf("Get() = %v, %v; want nil, nil", got, err)
	}
}
