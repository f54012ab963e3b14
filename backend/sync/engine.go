package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"projectsync/backend"
	"projectsync/backend/sqlite"
	"projectsync/internal/utils"
)

var (
	// ErrSyncInProgress is returned when a run is already active
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrOffline is returned when the network is down and Force is not set
	ErrOffline = errors.New("no network connection")

	// ErrUnresolvedConflict marks an entry held back for a manual decision
	ErrUnresolvedConflict = errors.New("conflict requires a manual decision")

	// ErrCreateNotConfirmed marks an entry whose record was never created on the server
	ErrCreateNotConfirmed = errors.New("create not confirmed by server")
)

const (
	DefaultBatchSize  = 10
	DefaultMaxRetries = 3
	DefaultPullLimit  = 500
)

// Connectivity is the engine's view of the network monitor
type Connectivity interface {
	CurrentStatus() bool
}

// SyncOptions tunes a single run
type SyncOptions struct {
	Force      bool     // run even when the monitor reports offline
	Strategy   Strategy // conflict strategy, defaults to server-wins
	BatchSize  int
	MaxRetries int
	Pull       bool // reconcile against GET /projects after draining the queue
	PullLimit  int
}

// DefaultSyncOptions returns the options used when nothing is configured
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		Strategy:   DefaultStrategy,
		BatchSize:  DefaultBatchSize,
		MaxRetries: DefaultMaxRetries,
		PullLimit:  DefaultPullLimit,
	}
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.Strategy == "" {
		o.Strategy = DefaultStrategy
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.PullLimit <= 0 {
		o.PullLimit = DefaultPullLimit
	}
	return o
}

// ConflictRecord describes one conflict met during a run
type ConflictRecord struct {
	EntryID    int64
	EntityID   string
	Type       ConflictType
	Strategy   Strategy
	Winner     Winner
	Local      backend.Fields
	Server     backend.Fields
	Merged     backend.Fields
	Unresolved bool
	ConflictID int64 // pending conflict id when Unresolved
}

// EntryError describes an entry that ended this pass in error
type EntryError struct {
	EntryID    int64
	EntityID   string
	Operation  backend.Operation
	Err        error
	RetryCount int
	DeadLetter bool // reached the retry ceiling this pass
}

func (e EntryError) Error() string {
	return fmt.Sprintf("%s %s (entry %d): %v", e.Operation, e.EntityID, e.EntryID, e.Err)
}

// SyncResult aggregates one run
type SyncResult struct {
	Success   bool
	Created   int
	Updated   int
	Deleted   int
	Failed    int
	Deferred  int
	Pulled    int
	Batches   int
	Aborted   bool
	Conflicts []ConflictRecord
	Errors    []EntryError
	IDMap     map[string]string // temporary id -> server id
	StartedAt time.Time
	Duration  time.Duration
}

// Processed returns the number of entries confirmed by the server
func (r *SyncResult) Processed() int {
	return r.Created + r.Updated + r.Deleted
}

// ResolvedConflicts returns the number of conflicts settled automatically
func (r *SyncResult) ResolvedConflicts() int {
	n := 0
	for _, c := range r.Conflicts {
		if !c.Unresolved {
			n++
		}
	}
	return n
}

// Engine replays the operation queue against the remote API. It is the only
// component that performs network I/O.
type Engine struct {
	db      *sqlite.Database
	remote  backend.ProjectAPI
	network Connectivity

	now          func() time.Time
	retryBackoff time.Duration

	syncing atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetryBackoff defers a failed entry until LastAttempt + d·2^(retries-1).
// Zero disables the gate.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) { e.retryBackoff = d }
}

// NewEngine creates an engine. A nil network is treated as always online.
func NewEngine(db *sqlite.Database, remote backend.ProjectAPI, network Connectivity, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		remote:  remote,
		network: network,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsSyncing reports whether a run is active
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// Abort cancels the active run. Entries already confirmed stay confirmed.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// attach derives the cancellable context of a run and registers it with Abort
func (e *Engine) attach(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	return runCtx, func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}
}

func (e *Engine) online() bool {
	return e.network == nil || e.network.CurrentStatus()
}

// run holds the per-run bookkeeping
type run struct {
	opts    SyncOptions
	result  *SyncResult
	blocked map[string]bool   // ids with an earlier entry still queued or dead-lettered
	idMap   map[string]string // temporary id -> server id
}

// SyncProjects drains the operation queue. Only ErrSyncInProgress and
// ErrOffline are returned as errors; everything else is reported in the result.
func (e *Engine) SyncProjects(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	opts = opts.withDefaults()

	if !opts.Force && !e.online() {
		return nil, ErrOffline
	}

	runCtx, done := e.attach(ctx)
	defer done()

	// completed work is persisted even when the run is aborted
	storeCtx := context.WithoutCancel(ctx)

	r := &run{
		opts: opts,
		result: &SyncResult{
			StartedAt: e.now(),
			IDMap:     make(map[string]string),
		},
		blocked: make(map[string]bool),
	}
	r.idMap = r.result.IDMap

	entries, err := e.db.Queue().Pending(storeCtx, opts.MaxRetries)
	if err != nil {
		// the queue is unreadable; report it as a failed pass
		r.result.Errors = append(r.result.Errors, EntryError{Err: err})
	}

	// a dead letter holds back every later entry for its id until it is
	// retried or purged
	dead, err := e.db.Queue().DeadLetters(storeCtx, opts.MaxRetries)
	if err != nil {
		r.result.Errors = append(r.result.Errors, EntryError{Err: err})
	}
	for _, d := range dead {
		r.blocked[d.EntityID] = true
	}

	if len(entries) > 0 {
		utils.Debugf("Sync run: %d pending entries, strategy %s, batch size %d", len(entries), opts.Strategy, opts.BatchSize)
	}

	for start := 0; start < len(entries) && !r.result.Aborted; start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(entries))
		r.result.Batches++

		for _, entry := range entries[start:end] {
			if runCtx.Err() != nil {
				r.result.Aborted = true
				break
			}
			e.processEntry(runCtx, storeCtx, r, entry)
		}
	}

	if runCtx.Err() != nil {
		r.result.Aborted = true
	}

	if opts.Pull && !r.result.Aborted {
		pulled, err := e.pull(runCtx, storeCtx, opts.PullLimit)
		r.result.Pulled = pulled
		if err != nil {
			if runCtx.Err() != nil {
				r.result.Aborted = true
			} else {
				r.result.Errors = append(r.result.Errors, EntryError{Err: fmt.Errorf("pull failed: %w", err)})
			}
		}
	}

	r.result.Success = len(r.result.Errors) == 0 && !r.result.Aborted
	r.result.Duration = e.now().Sub(r.result.StartedAt)

	if err := e.recordRun(storeCtx, r.result); err != nil {
		utils.Warnf("Failed to write sync metadata: %v", err)
	}

	if r.result.Processed() > 0 || len(r.result.Errors) > 0 {
		utils.Infof("Sync completed: %d created, %d updated, %d deleted, %d conflicts, %d errors",
			r.result.Created, r.result.Updated, r.result.Deleted, len(r.result.Conflicts), len(r.result.Errors))
	}

	return r.result, nil
}

// processEntry applies one queue entry. A panic is charged to the entry.
func (e *Engine) processEntry(ctx, storeCtx context.Context, r *run, entry sqlite.Entry) {
	id := entry.EntityID
	if mapped, ok := r.idMap[id]; ok {
		id = mapped
		entry.EntityID = mapped
	}

	if r.blocked[id] {
		r.result.Deferred++
		return
	}

	if e.backoffPending(entry) {
		utils.Debugf("Deferring entry %d for %s: retry backoff", entry.ID, id)
		r.blocked[id] = true
		r.result.Deferred++
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.fail(ctx, storeCtx, r, entry, fmt.Errorf("panic while processing entry: %v", rec))
		}
	}()

	var err error
	switch entry.Operation {
	case backend.OperationCreate:
		err = e.applyCreate(ctx, storeCtx, r, entry)
	case backend.OperationUpdate:
		err = e.applyUpdate(ctx, storeCtx, r, entry)
	case backend.OperationDelete:
		err = e.applyDelete(ctx, storeCtx, r, entry)
	default:
		err = fmt.Errorf("unknown operation: %s", entry.Operation)
	}

	if err != nil {
		e.fail(ctx, storeCtx, r, entry, err)
	}
}

func (e *Engine) backoffPending(entry sqlite.Entry) bool {
	if e.retryBackoff <= 0 || entry.RetryCount == 0 || entry.LastAttempt.IsZero() {
		return false
	}
	wait := e.retryBackoff << (entry.RetryCount - 1)
	return entry.LastAttempt.Add(wait).After(e.now())
}

// fail charges a retry to the entry and blocks the rest of its id for this run
func (e *Engine) fail(ctx, storeCtx context.Context, r *run, entry sqlite.Entry, cause error) {
	r.blocked[entry.EntityID] = true

	if ctx.Err() != nil {
		// aborted mid-request: not the entry's fault
		r.result.Aborted = true
		return
	}

	entryErr := EntryError{
		EntryID:   entry.ID,
		EntityID:  entry.EntityID,
		Operation: entry.Operation,
		Err:       cause,
	}

	count, err := e.db.Queue().IncrementRetry(storeCtx, entry.ID, cause.Error())
	if err != nil {
		utils.Errorf("Failed to record retry for entry %d: %v", entry.ID, err)
	}
	entryErr.RetryCount = count

	if count >= r.opts.MaxRetries {
		entryErr.DeadLetter = true
		if err := e.db.Store().SetSyncStatus(storeCtx, entry.EntityID, backend.SyncStatusFailed); err != nil {
			utils.Errorf("Failed to mark %s as failed: %v", entry.EntityID, err)
		}
		utils.Warnf("Giving up on %s %s after %d attempts: %v", entry.Operation, entry.EntityID, count, cause)
	} else {
		utils.Debugf("Entry %d (%s %s) failed, attempt %d/%d: %v", entry.ID, entry.Operation, entry.EntityID, count, r.opts.MaxRetries, cause)
	}

	r.result.Failed++
	r.result.Errors = append(r.result.Errors, entryErr)
}

func (e *Engine) applyCreate(ctx, storeCtx context.Context, r *run, entry sqlite.Entry) error {
	tempID := entry.EntityID

	payload := entry.Payload.Clone()
	if payload == nil {
		payload = backend.Fields{}
	}
	delete(payload, "id")

	created, err := e.remote.CreateProject(ctx, payload)
	if err != nil {
		return fmt.Errorf("failed to create project on server: %w", err)
	}
	if created.ID == "" {
		return fmt.Errorf("server returned a project without id")
	}

	syncedAt := laterOf(e.now(), created.UpdatedAt)

	err = e.db.InTx(storeCtx, func(tx *sqlite.Tx) error {
		store := tx.Store()
		queue := tx.Queue()

		local, err := store.Get(storeCtx, tempID)
		if err != nil {
			return err
		}
		if err := store.ReplaceID(storeCtx, tempID, created.ID); err != nil {
			return err
		}
		if err := queue.RewriteEntityID(storeCtx, tempID, created.ID); err != nil {
			return err
		}
		if err := queue.Dequeue(storeCtx, entry.ID); err != nil {
			return err
		}

		remaining, err := queue.CountFor(storeCtx, created.ID)
		if err != nil {
			return err
		}

		if remaining > 0 && local != nil {
			// later entries still describe the local state; keep it
			local.ID = created.ID
			local.CreatedAt = created.CreatedAt
			local.LastSyncedAt = syncedAt
			return store.Put(storeCtx, local)
		}

		rec := *created
		rec.SyncStatus = backend.SyncStatusSynced
		rec.LastSyncedAt = syncedAt
		rec.PendingChanges = nil
		return store.Put(storeCtx, &rec)
	})
	if err != nil {
		return fmt.Errorf("failed to record created project %s: %w", created.ID, err)
	}

	if tempID != created.ID {
		r.idMap[tempID] = created.ID
	}
	r.result.Created++
	utils.Debugf("Created %s as %s", tempID, created.ID)
	return nil
}

func (e *Engine) applyUpdate(ctx, storeCtx context.Context, r *run, entry sqlite.Entry) error {
	id := entry.EntityID
	if backend.IsTemporaryID(id) {
		return fmt.Errorf("%w: %s", ErrCreateNotConfirmed, id)
	}

	local, err := e.db.Store().Get(storeCtx, id)
	if err != nil {
		return err
	}

	server, err := e.remote.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch server record: %w", err)
	}

	in := ConflictInput{
		Operation: entry.Operation,
		Local:     local,
		Server:    server,
		Payload:   entry.Payload,
		Base:      entry.Base,
	}
	res := Resolve(in, r.opts.Strategy)

	body := entry.Payload
	var resolved *ConflictRecord
	if res.HasConflict() {
		record := ConflictRecord{
			EntryID:    entry.ID,
			EntityID:   id,
			Type:       res.Type,
			Strategy:   res.Strategy,
			Winner:     res.Winner,
			Local:      entry.Payload.Clone(),
			Server:     server.Fields(),
			Merged:     res.Merged,
			Unresolved: res.Unresolved,
		}

		if res.Unresolved {
			return e.holdForDecision(storeCtx, r, entry, local, record)
		}

		resolved = &record
		body = res.Merged
	}

	updated, err := e.remote.UpdateProject(ctx, id, body)
	if err != nil {
		return fmt.Errorf("failed to update project on server: %w", err)
	}

	if err := e.confirm(storeCtx, entry, updated); err != nil {
		return fmt.Errorf("failed to record updated project %s: %w", id, err)
	}

	if resolved != nil {
		utils.Debugf("Conflict on %s (%s) resolved with %s, %s wins", id, res.Type, res.Strategy, res.Winner)
		r.result.Conflicts = append(r.result.Conflicts, *resolved)
	}
	r.result.Updated++
	return nil
}

// holdForDecision parks an entry behind a pending conflict. The entry is not
// charged a retry.
func (e *Engine) holdForDecision(storeCtx context.Context, r *run, entry sqlite.Entry, local *backend.Project, record ConflictRecord) error {
	pc := sqlite.PendingConflict{
		EntryID:    entry.ID,
		EntityID:   entry.EntityID,
		Type:       string(record.Type),
		Server:     record.Server,
		Payload:    entry.Payload,
		DetectedAt: e.now(),
	}
	if local != nil {
		pc.Local = local.Fields()
	}

	conflictID, err := e.db.Conflicts().Add(storeCtx, pc)
	if err != nil {
		return fmt.Errorf("failed to persist conflict: %w", err)
	}
	record.ConflictID = conflictID

	r.blocked[entry.EntityID] = true
	r.result.Conflicts = append(r.result.Conflicts, record)
	r.result.Errors = append(r.result.Errors, EntryError{
		EntryID:    entry.ID,
		EntityID:   entry.EntityID,
		Operation:  entry.Operation,
		Err:        fmt.Errorf("%w (conflict %d, %s)", ErrUnresolvedConflict, conflictID, record.Type),
		RetryCount: entry.RetryCount,
	})
	utils.Infof("Conflict on %s needs a manual decision (conflict %d)", entry.EntityID, conflictID)
	return nil
}

// confirm dequeues a successful entry and brings the local record in line
// with the server once no later entries remain for it.
func (e *Engine) confirm(storeCtx context.Context, entry sqlite.Entry, server *backend.Project) error {
	syncedAt := e.now()
	if server != nil {
		syncedAt = laterOf(syncedAt, server.UpdatedAt)
	}

	return e.db.InTx(storeCtx, func(tx *sqlite.Tx) error {
		store := tx.Store()
		queue := tx.Queue()

		if err := queue.Dequeue(storeCtx, entry.ID); err != nil {
			return err
		}
		if err := tx.Conflicts().CloseForEntry(storeCtx, entry.ID, "applied"); err != nil {
			return err
		}

		remaining, err := queue.CountFor(storeCtx, entry.EntityID)
		if err != nil {
			return err
		}

		if remaining == 0 && server != nil {
			rec := *server
			rec.ID = entry.EntityID
			rec.SyncStatus = backend.SyncStatusSynced
			rec.LastSyncedAt = syncedAt
			rec.PendingChanges = nil
			return store.Put(storeCtx, &rec)
		}

		local, err := store.Get(storeCtx, entry.EntityID)
		if err != nil || local == nil {
			return err
		}
		local.LastSyncedAt = syncedAt
		return store.Put(storeCtx, local)
	})
}

func (e *Engine) applyDelete(ctx, storeCtx context.Context, r *run, entry sqlite.Entry) error {
	id := entry.EntityID
	if backend.IsTemporaryID(id) {
		return fmt.Errorf("%w: %s", ErrCreateNotConfirmed, id)
	}

	if err := e.remote.DeleteProject(ctx, id); err != nil && !backend.IsNotFound(err) {
		return fmt.Errorf("failed to delete project on server: %w", err)
	}

	err := e.db.InTx(storeCtx, func(tx *sqlite.Tx) error {
		queue := tx.Queue()
		if err := queue.Dequeue(storeCtx, entry.ID); err != nil {
			return err
		}
		remaining, err := queue.CountFor(storeCtx, id)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		return tx.Store().Delete(storeCtx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to remove deleted project %s: %w", id, err)
	}

	r.result.Deleted++
	return nil
}

// recordRun folds a run into the persisted sync metadata
func (e *Engine) recordRun(ctx context.Context, result *SyncResult) error {
	return e.db.InTx(ctx, func(tx *sqlite.Tx) error {
		meta := tx.Metadata()
		state, err := meta.Get(ctx)
		if err != nil {
			return err
		}

		state.SyncRuns++
		state.SyncVersion++
		state.ConflictsResolved += int64(result.ResolvedConflicts())
		state.TotalErrors += int64(len(result.Errors))
		if result.Success {
			state.LastSuccessfulSync = result.StartedAt.Add(result.Duration)
		}

		summary := &sqlite.RunSummary{
			StartedAt: result.StartedAt,
			Duration:  result.Duration,
			Success:   result.Success,
			Aborted:   result.Aborted,
			Processed: result.Processed(),
			Conflicts: len(result.Conflicts),
			Errors:    len(result.Errors),
			Deferred:  result.Deferred,
			Pulled:    result.Pulled,
		}
		if n := len(result.Errors); n > 0 {
			summary.LastErrMsg = result.Errors[n-1].Err.Error()
		}
		state.LastResult = summary

		return meta.Put(ctx, state)
	})
}

// Status is a snapshot for CLI and TUI display
type Status struct {
	Online        bool
	Syncing       bool
	Stats         sqlite.DatabaseStats
	State         sqlite.SyncState
	OpenConflicts []sqlite.PendingConflict
}

// Status reports queue depth, metadata and open conflicts
func (e *Engine) Status(ctx context.Context, maxRetries int) (*Status, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	stats, err := e.db.GetStats(ctx, maxRetries)
	if err != nil {
		return nil, err
	}
	state, err := e.db.Metadata().Get(ctx)
	if err != nil {
		return nil, err
	}
	conflicts, err := e.db.Conflicts().ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		Online:        e.online(),
		Syncing:       e.IsSyncing(),
		Stats:         stats,
		State:         state,
		OpenConflicts: conflicts,
	}, nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
