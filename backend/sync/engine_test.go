package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"projectsync/backend"
	"projectsync/backend/sqlite"
)

type fakeNetwork struct {
	online atomic.Bool
}

func newFakeNetwork(online bool) *fakeNetwork {
	n := &fakeNetwork{}
	n.online.Store(online)
	return n
}

func (n *fakeNetwork) CurrentStatus() bool {
	return n.online.Load()
}

type testEnv struct {
	db      *sqlite.Database
	remote  *backend.MockRemote
	network *fakeNetwork
	engine  *Engine
	mutator *Mutator
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	remote := backend.NewMockRemote()
	network := newFakeNetwork(true)
	return &testEnv{
		db:      db,
		remote:  remote,
		network: network,
		engine:  NewEngine(db, remote, network, opts...),
		mutator: NewMutator(db),
	}
}

// seedSynced stores p both on the server and locally as synced
func (env *testEnv) seedSynced(t *testing.T, p backend.Project) {
	t.Helper()
	env.remote.Seed(p)
	p.SyncStatus = backend.SyncStatusSynced
	p.LastSyncedAt = p.UpdatedAt
	if err := env.db.Store().Put(context.Background(), &p); err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) sync(t *testing.T, opts SyncOptions) *SyncResult {
	t.Helper()
	result, err := env.engine.SyncProjects(context.Background(), opts)
	if err != nil {
		t.Fatalf("SyncProjects() error = %v", err)
	}
	return result
}

func TestSyncOfflineCreateGetsServerID(t *testing.T) {
	env := newTestEnv(t)
	env.remote.NextIDs = []string{"p42"}
	ctx := context.Background()

	env.network.online.Store(false)
	created, err := env.mutator.CreateProject(ctx, backend.Fields{"name": "New Project"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if !backend.IsTemporaryID(created.ID) || created.SyncStatus != backend.SyncStatusPending {
		t.Fatalf("offline create = %+v", created)
	}

	if _, err := env.engine.SyncProjects(ctx, SyncOptions{}); !errors.Is(err, ErrOffline) {
		t.Fatalf("offline SyncProjects() error = %v, want ErrOffline", err)
	}
	if len(env.remote.Calls()) != 0 {
		t.Errorf("offline run issued network calls: %v", env.remote.Calls())
	}

	env.network.online.Store(true)
	result := env.sync(t, SyncOptions{})
	if !result.Success || result.Created != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.IDMap[created.ID] != "p42" {
		t.Errorf("IDMap = %v", result.IDMap)
	}

	got, _ := env.db.Store().Get(ctx, "p42")
	if got == nil {
		t.Fatal("record not stored under server id")
	}
	if got.SyncStatus != backend.SyncStatusSynced || got.Name != "New Project" || got.LastSyncedAt.IsZero() {
		t.Errorf("stored record = %+v", got)
	}
	if old, _ := env.db.Store().Get(ctx, created.ID); old != nil {
		t.Error("temporary id still present")
	}
	if n, _ := env.db.Queue().Count(ctx); n != 0 {
		t.Errorf("queue has %d entries, want 0", n)
	}
}

func TestSyncCreateUpdateDeleteOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.mutator.CreateProject(ctx, backend.Fields{"name": "Short lived"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.mutator.UpdateProject(ctx, p.ID, backend.Fields{"name": "Renamed"}); err != nil {
		t.Fatal(err)
	}
	if err := env.mutator.DeleteProject(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	result := env.sync(t, SyncOptions{})
	if !result.Success {
		t.Fatalf("result errors = %v", result.Errors)
	}
	if result.Created != 1 || result.Updated != 1 || result.Deleted != 1 {
		t.Errorf("counts = %+v", result)
	}

	calls := env.remote.MutationCalls()
	want := []string{"POST", "PUT", "DELETE"}
	if len(calls) != len(want) {
		t.Fatalf("mutation calls = %v, want %v", calls, want)
	}
	for i, c := range calls {
		if c.Method != want[i] {
			t.Errorf("call %d = %s, want %s", i, c.Method, want[i])
		}
	}

	serverID := result.IDMap[p.ID]
	if got, _ := env.db.Store().Get(ctx, serverID); got != nil {
		t.Errorf("record still present after delete: %+v", got)
	}
	if got, _ := env.db.Store().Get(ctx, p.ID); got != nil {
		t.Errorf("temporary record still present: %+v", got)
	}
	if _, ok := env.remote.Project(serverID); ok {
		t.Error("server still has the project")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "B"}); err != nil {
		t.Fatal(err)
	}

	first := env.sync(t, SyncOptions{})
	if first.Updated != 1 || !first.Success {
		t.Fatalf("first run = %+v", first)
	}
	before, _ := env.db.Metadata().Get(ctx)

	second := env.sync(t, SyncOptions{})
	if second.Batches != 0 || second.Processed() != 0 || len(second.Conflicts) != 0 {
		t.Errorf("second run did work: %+v", second)
	}
	after, _ := env.db.Metadata().Get(ctx)
	if after.ConflictsResolved != before.ConflictsResolved || after.TotalErrors != before.TotalErrors {
		t.Errorf("metadata counters moved: before %+v after %+v", before, after)
	}
	if after.SyncRuns != before.SyncRuns+1 || after.SyncVersion <= before.SyncVersion {
		t.Errorf("run not recorded: before %+v after %+v", before, after)
	}

	local, _ := env.db.Store().Get(ctx, "p1")
	if local.SyncStatus != backend.SyncStatusSynced || local.Name != "B" {
		t.Errorf("local after sync = %+v", local)
	}
}

func TestSyncRetryCeiling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "B"}); err != nil {
		t.Fatal(err)
	}
	env.remote.UpdateErr = backend.NewBackendError("UpdateProject", 503, "unavailable")

	for i := 1; i <= 3; i++ {
		result := env.sync(t, SyncOptions{MaxRetries: 3})
		if result.Success || result.Failed != 1 {
			t.Fatalf("run %d = %+v", i, result)
		}
		if result.Errors[0].RetryCount != i {
			t.Errorf("run %d retry count = %d", i, result.Errors[0].RetryCount)
		}
		if result.Errors[0].DeadLetter != (i == 3) {
			t.Errorf("run %d dead letter = %v", i, result.Errors[0].DeadLetter)
		}
	}

	putsBefore := len(env.remote.MutationCalls())
	result := env.sync(t, SyncOptions{MaxRetries: 3})
	if result.Batches != 0 || len(result.Errors) != 0 {
		t.Errorf("dead letter processed again: %+v", result)
	}
	if len(env.remote.MutationCalls()) != putsBefore {
		t.Error("dead letter was retried")
	}

	dead, _ := env.db.Queue().DeadLetters(ctx, 3)
	if len(dead) != 1 || dead[0].RetryCount != 3 {
		t.Errorf("dead letters = %+v", dead)
	}
	local, _ := env.db.Store().Get(ctx, "p1")
	if local.SyncStatus != backend.SyncStatusFailed {
		t.Errorf("sync status = %s, want failed", local.SyncStatus)
	}
}

func TestSyncDeadLetterHoldsBackLaterEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"description": "older"}); err != nil {
		t.Fatal(err)
	}
	env.remote.UpdateErr = backend.NewBackendError("UpdateProject", 503, "unavailable")
	for i := 0; i < 3; i++ {
		env.sync(t, SyncOptions{MaxRetries: 3})
	}
	env.remote.UpdateErr = nil

	updated, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"description": "newer"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.SyncStatus != backend.SyncStatusFailed {
		t.Errorf("status after update = %s, want failed while the dead letter remains", updated.SyncStatus)
	}

	putsBefore := len(env.remote.MutationCalls())
	result := env.sync(t, SyncOptions{MaxRetries: 3, Strategy: ClientWins})
	if result.Updated != 0 || result.Deferred != 1 {
		t.Errorf("newer entry ran ahead of the dead letter: %+v", result)
	}
	if len(env.remote.MutationCalls()) != putsBefore {
		t.Errorf("unexpected mutations: %v", env.remote.MutationCalls()[putsBefore:])
	}
	local, _ := env.db.Store().Get(ctx, "p1")
	if local.SyncStatus != backend.SyncStatusFailed {
		t.Errorf("local status = %s, want failed", local.SyncStatus)
	}
	if n, _ := env.db.Queue().Count(ctx); n != 2 {
		t.Errorf("queue has %d entries, want 2", n)
	}

	if _, err := env.db.Queue().ResetRetries(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if err := env.db.Store().SetSyncStatus(ctx, "p1", backend.SyncStatusPending); err != nil {
		t.Fatal(err)
	}

	result = env.sync(t, SyncOptions{MaxRetries: 3, Strategy: ClientWins})
	if !result.Success || result.Updated != 2 {
		t.Fatalf("retry run = %+v", result)
	}
	server, _ := env.remote.Project("p1")
	if server.Description != "newer" {
		t.Errorf("server description = %q, want newer", server.Description)
	}
	local, _ = env.db.Store().Get(ctx, "p1")
	if local.SyncStatus != backend.SyncStatusSynced || local.Description != "newer" {
		t.Errorf("local record = %+v", local)
	}
}

func TestSyncSingleFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "B"}); err != nil {
		t.Fatal(err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once atomic.Bool
	env.remote.BeforeCall = func(ctx context.Context, method, id string) error {
		if once.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
		return nil
	}

	done := make(chan *SyncResult)
	go func() {
		result, _ := env.engine.SyncProjects(ctx, SyncOptions{})
		done <- result
	}()

	<-entered
	if !env.engine.IsSyncing() {
		t.Error("IsSyncing() = false during a run")
	}
	if _, err := env.engine.SyncProjects(ctx, SyncOptions{}); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent SyncProjects() error = %v, want ErrSyncInProgress", err)
	}
	if _, err := env.engine.Pull(ctx, 10); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent Pull() error = %v, want ErrSyncInProgress", err)
	}
	close(release)

	result := <-done
	if result == nil || !result.Success {
		t.Fatalf("first run = %+v", result)
	}
	if got := len(env.remote.MutationCalls()); got != 1 {
		t.Errorf("mutation calls = %d, want 1", got)
	}
}

func TestSyncAbortStopsIssuingWork(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		env.seedSynced(t, backend.Project{ID: id, Name: id, UpdatedAt: at(100)})
		if _, err := env.mutator.UpdateProject(ctx, id, backend.Fields{"name": id + "!"}); err != nil {
			t.Fatal(err)
		}
	}

	// abort while the second project's PUT is in flight
	env.remote.BeforeCall = func(ctx context.Context, method, id string) error {
		if method == "PUT" && id == "p2" {
			env.engine.Abort()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	result := env.sync(t, SyncOptions{})
	if !result.Aborted || result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}

	for _, c := range env.remote.Calls() {
		if c.ID == "p3" {
			t.Errorf("work issued after abort: %+v", c)
		}
	}

	p1, _ := env.db.Store().Get(ctx, "p1")
	if p1.SyncStatus != backend.SyncStatusSynced {
		t.Errorf("completed entry rolled back: %+v", p1)
	}

	pending, _ := env.db.Queue().Pending(ctx, 3)
	if len(pending) != 2 {
		t.Fatalf("pending = %d entries, want 2", len(pending))
	}
	for _, e := range pending {
		if e.RetryCount != 0 {
			t.Errorf("aborted entry %s was charged a retry", e.EntityID)
		}
	}
}

func TestSyncConflictStrategies(t *testing.T) {
	tests := []struct {
		strategy Strategy
		wantName string
	}{
		{ServerWins, "B"},
		{ClientWins, "C"},
		{TimestampBased, "B"},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			env.seedSynced(t, backend.Project{ID: "p1", Name: "A", Location: "Lisbon", UpdatedAt: at(100)})
			if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "C"}); err != nil {
				t.Fatal(err)
			}
			// the server moves after the client's last agreement
			env.remote.Seed(backend.Project{ID: "p1", Name: "B", Location: "Lisbon", UpdatedAt: at(150)})

			result := env.sync(t, SyncOptions{Strategy: tt.strategy})
			if !result.Success || result.Updated != 1 {
				t.Fatalf("result = %+v", result)
			}
			if len(result.Conflicts) != 1 {
				t.Fatalf("conflicts = %+v", result.Conflicts)
			}
			c := result.Conflicts[0]
			if c.Type != ConflictVersion || c.Strategy != tt.strategy || c.Unresolved {
				t.Errorf("conflict record = %+v", c)
			}
			if c.Server["name"] != "B" || c.Local["name"] != "C" {
				t.Errorf("conflict versions = local %v server %v", c.Local, c.Server)
			}

			server, _ := env.remote.Project("p1")
			if server.Name != tt.wantName || server.Location != "Lisbon" {
				t.Errorf("server record = %+v", server)
			}
			local, _ := env.db.Store().Get(ctx, "p1")
			if local.Name != tt.wantName || local.SyncStatus != backend.SyncStatusSynced {
				t.Errorf("local record = %+v", local)
			}

			meta, _ := env.db.Metadata().Get(ctx)
			if meta.ConflictsResolved != 1 {
				t.Errorf("ConflictsResolved = %d", meta.ConflictsResolved)
			}
		})
	}
}

func TestSyncManualConflictPersistsAndResumes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	env.seedSynced(t, backend.Project{ID: "p2", Name: "Other", UpdatedAt: at(100)})
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "C"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"description": "later edit"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.mutator.UpdateProject(ctx, "p2", backend.Fields{"name": "Other!"}); err != nil {
		t.Fatal(err)
	}
	env.remote.Seed(backend.Project{ID: "p1", Name: "B", UpdatedAt: at(150)})

	result := env.sync(t, SyncOptions{Strategy: Manual})
	if result.Success {
		t.Fatal("manual conflict must not report success")
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0].Err, ErrUnresolvedConflict) {
		t.Fatalf("errors = %+v", result.Errors)
	}
	if result.Updated != 1 || result.Deferred != 1 {
		t.Errorf("other entries should proceed and p1's later entry wait: %+v", result)
	}
	if len(result.Conflicts) != 1 || !result.Conflicts[0].Unresolved || result.Conflicts[0].ConflictID == 0 {
		t.Fatalf("conflicts = %+v", result.Conflicts)
	}

	server, _ := env.remote.Project("p1")
	if server.Name != "B" {
		t.Errorf("unresolved conflict wrote to the server: %+v", server)
	}
	entries, _ := env.db.Queue().Pending(ctx, 3)
	if len(entries) != 2 || entries[0].RetryCount != 0 {
		t.Errorf("queued entries = %+v", entries)
	}

	// a second manual run refreshes the same pending conflict
	again := env.sync(t, SyncOptions{Strategy: Manual})
	open, _ := env.db.Conflicts().ListOpen(ctx)
	if len(open) != 1 || again.Conflicts[0].ConflictID != open[0].ID {
		t.Errorf("open conflicts = %+v", open)
	}

	if err := env.engine.ResolveConflict(ctx, open[0].ID, ConflictDecision{Choice: KeepLocal}); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if err := env.engine.ResolveConflict(ctx, open[0].ID, ConflictDecision{Choice: KeepLocal}); err == nil {
		t.Error("resolving twice should fail")
	}

	final := env.sync(t, SyncOptions{Strategy: Manual})
	if !final.Success || final.Updated != 2 {
		t.Fatalf("final run = %+v", final)
	}
	server, _ = env.remote.Project("p1")
	if server.Name != "C" || server.Description != "later edit" {
		t.Errorf("server after keep-local = %+v", server)
	}
	local, _ := env.db.Store().Get(ctx, "p1")
	if local.SyncStatus != backend.SyncStatusSynced {
		t.Errorf("local after resume = %+v", local)
	}
}

func TestResolveConflictKeepServer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "C"}); err != nil {
		t.Fatal(err)
	}
	env.remote.Seed(backend.Project{ID: "p1", Name: "B", UpdatedAt: at(150)})

	result := env.sync(t, SyncOptions{Strategy: Manual})
	conflictID := result.Conflicts[0].ConflictID

	if err := env.engine.ResolveConflict(ctx, conflictID, ConflictDecision{Choice: KeepServer}); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	if n, _ := env.db.Queue().Count(ctx); n != 0 {
		t.Errorf("queue has %d entries after keep-server", n)
	}
	local, _ := env.db.Store().Get(ctx, "p1")
	if local.Name != "B" || local.SyncStatus != backend.SyncStatusSynced {
		t.Errorf("local after keep-server = %+v", local)
	}

	if err := env.engine.ResolveConflict(ctx, 999, ConflictDecision{Choice: KeepServer}); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("unknown conflict error = %v", err)
	}
	if err := env.engine.ResolveConflict(ctx, conflictID, ConflictDecision{Choice: UseCustom}); err == nil {
		t.Error("custom decision without fields should fail")
	}
}

func TestSyncFailureBlocksLaterEntriesForSameID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	_, _ = env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "B"})
	_, _ = env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "C"})
	env.remote.GetErr = backend.NewBackendError("GetProject", 500, "boom")

	result := env.sync(t, SyncOptions{})
	if result.Failed != 1 || result.Deferred != 1 {
		t.Errorf("result = %+v", result)
	}
	gets := 0
	for _, c := range env.remote.Calls() {
		if c.Method == "GET" {
			gets++
		}
	}
	if gets != 1 {
		t.Errorf("GET issued %d times, want 1", gets)
	}
}

func TestSyncRecoversFromPanic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	env.seedSynced(t, backend.Project{ID: "p2", Name: "B", UpdatedAt: at(100)})
	_, _ = env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "A!"})
	_, _ = env.mutator.UpdateProject(ctx, "p2", backend.Fields{"name": "B!"})

	env.remote.BeforeCall = func(ctx context.Context, method, id string) error {
		if id == "p1" {
			panic("remote exploded")
		}
		return nil
	}

	result := env.sync(t, SyncOptions{})
	if result.Failed != 1 || result.Updated != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Errors[0].EntityID != "p1" {
		t.Errorf("panic charged to %s", result.Errors[0].EntityID)
	}
}

func TestSyncDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	local := backend.Project{ID: "p7", Name: "Gone", UpdatedAt: at(100), SyncStatus: backend.SyncStatusSynced}
	if err := env.db.Store().Put(ctx, &local); err != nil {
		t.Fatal(err)
	}
	if err := env.mutator.DeleteProject(ctx, "p7"); err != nil {
		t.Fatal(err)
	}
	if all, _ := env.db.Store().GetAll(ctx); len(all) != 0 {
		t.Errorf("tombstone visible in GetAll: %+v", all)
	}

	result := env.sync(t, SyncOptions{})
	if !result.Success || result.Deleted != 1 {
		t.Fatalf("result = %+v", result)
	}
	if got, _ := env.db.Store().Get(ctx, "p7"); got != nil {
		t.Errorf("record still present: %+v", got)
	}
}

func TestSyncForceRunsOffline(t *testing.T) {
	env := newTestEnv(t)
	env.network.online.Store(false)

	result, err := env.engine.SyncProjects(context.Background(), SyncOptions{Force: true})
	if err != nil {
		t.Fatalf("forced SyncProjects() error = %v", err)
	}
	if !result.Success || result.Batches != 0 {
		t.Errorf("trivial forced run = %+v", result)
	}
}

func TestSyncBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := env.mutator.CreateProject(ctx, backend.Fields{"name": "bulk"}); err != nil {
			t.Fatal(err)
		}
	}

	result := env.sync(t, SyncOptions{BatchSize: 3})
	if result.Batches != 3 || result.Created != 7 {
		t.Errorf("result = %+v", result)
	}
}

func TestSyncRetryBackoffDefersEntry(t *testing.T) {
	env := newTestEnv(t, WithRetryBackoff(time.Hour))
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	_, _ = env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "B"})
	env.remote.GetErr = errors.New("connection reset")

	first := env.sync(t, SyncOptions{})
	if first.Failed != 1 {
		t.Fatalf("first run = %+v", first)
	}

	env.remote.GetErr = nil
	second := env.sync(t, SyncOptions{})
	if second.Deferred != 1 || second.Updated != 0 || len(second.Errors) != 0 {
		t.Errorf("entry inside its backoff window was processed: %+v", second)
	}
}

func TestSyncPullReconciles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "Old name", UpdatedAt: at(100)})
	env.seedSynced(t, backend.Project{ID: "p2", Name: "Mine", UpdatedAt: at(100)})
	stale := backend.Project{ID: "p3", Name: "Removed upstream", UpdatedAt: at(100), SyncStatus: backend.SyncStatusSynced}
	_ = env.db.Store().Put(ctx, &stale)

	_, _ = env.mutator.UpdateProject(ctx, "p2", backend.Fields{"name": "Mine, edited"})
	env.remote.UpdateErr = errors.New("keep p2 pending")

	env.remote.Seed(backend.Project{ID: "p1", Name: "New name", UpdatedAt: at(200)})
	env.remote.Seed(backend.Project{ID: "p2", Name: "Theirs", UpdatedAt: at(200)})
	env.remote.Seed(backend.Project{ID: "p4", Name: "Fresh", UpdatedAt: at(200)})

	result := env.sync(t, SyncOptions{Pull: true, PullLimit: 100})
	if result.Pulled != 3 {
		t.Errorf("Pulled = %d, want 3 (p1 refreshed, p4 inserted, p3 removed)", result.Pulled)
	}

	p1, _ := env.db.Store().Get(ctx, "p1")
	if p1.Name != "New name" {
		t.Errorf("p1 not refreshed: %+v", p1)
	}
	p2, _ := env.db.Store().Get(ctx, "p2")
	if p2.Name != "Mine, edited" || p2.SyncStatus != backend.SyncStatusPending {
		t.Errorf("pending p2 was overwritten: %+v", p2)
	}
	if p3, _ := env.db.Store().Get(ctx, "p3"); p3 != nil {
		t.Errorf("p3 should be removed: %+v", p3)
	}
	if p4, _ := env.db.Store().Get(ctx, "p4"); p4 == nil || p4.SyncStatus != backend.SyncStatusSynced {
		t.Errorf("p4 not inserted: %+v", p4)
	}
}

func TestSyncPullRefreshesFailedRecordWithoutEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSynced(t, backend.Project{ID: "p1", Name: "A", UpdatedAt: at(100)})
	if _, err := env.mutator.UpdateProject(ctx, "p1", backend.Fields{"name": "Never sent"}); err != nil {
		t.Fatal(err)
	}
	env.remote.UpdateErr = errors.New("rejected")
	for i := 0; i < 3; i++ {
		env.sync(t, SyncOptions{MaxRetries: 3})
	}
	env.remote.UpdateErr = nil

	// a failed record keeps its local value while the dead letter exists
	result := env.sync(t, SyncOptions{MaxRetries: 3, Pull: true, PullLimit: 10})
	if result.Pulled != 0 {
		t.Errorf("Pulled = %d with the dead letter queued, want 0", result.Pulled)
	}

	if _, err := env.db.Queue().PurgeDeadLetters(ctx, 3, time.Time{}); err != nil {
		t.Fatal(err)
	}
	env.remote.Seed(backend.Project{ID: "p1", Name: "Server name", UpdatedAt: at(200)})

	result = env.sync(t, SyncOptions{MaxRetries: 3, Pull: true, PullLimit: 10})
	if result.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", result.Pulled)
	}
	local, _ := env.db.Store().Get(ctx, "p1")
	if local.Name != "Server name" || local.SyncStatus != backend.SyncStatusSynced {
		t.Errorf("local record = %+v", local)
	}
}

func TestStatusReportsQueueAndMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _ = env.mutator.CreateProject(ctx, backend.Fields{"name": "queued"})
	env.network.online.Store(false)

	status, err := env.engine.Status(ctx, 3)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Online || status.Syncing {
		t.Errorf("status flags = %+v", status)
	}
	if status.Stats.PendingSyncOps != 1 || status.Stats.PendingProjects != 1 {
		t.Errorf("stats = %+v", status.Stats)
	}
}
