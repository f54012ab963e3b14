package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	backendsync "projectsync/backend/sync"
)

// DefaultInterval is the periodic sync cadence
const DefaultInterval = 30 * time.Second

// Syncer is the part of the sync engine the coordinator drives
type Syncer interface {
	SyncProjects(ctx context.Context, opts backendsync.SyncOptions) (*backendsync.SyncResult, error)
}

// ReconnectNotifier delivers the offline to online resync hook
type ReconnectNotifier interface {
	OnReconnect(fn func())
}

// ResultObserver sees every finished run, including skipped and failed ones
type ResultObserver func(result *backendsync.SyncResult, err error)

// Coordinator triggers SyncProjects on a ticker, on reconnect and on demand.
// Triggers that arrive while a run is in flight are dropped.
type Coordinator struct {
	engine Syncer

	mu        sync.RWMutex
	opts      backendsync.SyncOptions
	interval  time.Duration
	observers []ResultObserver
	resetTick chan time.Duration

	// Goroutine management
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Prevent overlapping triggers before the engine's own guard is reached
	syncing atomic.Bool

	logger *log.Logger

	started  atomic.Bool
	shutdown atomic.Bool
}

// NewCoordinator creates a coordinator. A zero interval uses DefaultInterval.
func NewCoordinator(engine Syncer, opts backendsync.SyncOptions, interval time.Duration) (*Coordinator, error) {
	if engine == nil {
		return nil, fmt.Errorf("sync engine is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		engine:    engine,
		opts:      opts,
		interval:  interval,
		resetTick: make(chan time.Duration, 1),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.New(os.Stderr, "[AutoSync] ", log.LstdFlags),
	}, nil
}

// SetLogOutput redirects the coordinator's log
func (c *Coordinator) SetLogOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	c.logger.SetOutput(w)
}

// OnResult registers an observer for finished runs
func (c *Coordinator) OnResult(fn ResultObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// SetOptions replaces the options used by later runs
func (c *Coordinator) SetOptions(opts backendsync.SyncOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
}

// Options returns the options the next run will use
func (c *Coordinator) Options() backendsync.SyncOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// SetInterval changes the ticker period; it takes effect immediately
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()

	// replace any pending reset with the newest value
	select {
	case <-c.resetTick:
	default:
	}
	select {
	case c.resetTick <- d:
	default:
	}
}

// Interval returns the current ticker period
func (c *Coordinator) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// Start launches the periodic loop and subscribes to reconnect events.
// It is a no-op after the first call.
func (c *Coordinator) Start(notifier ReconnectNotifier) {
	if c.shutdown.Load() || !c.started.CompareAndSwap(false, true) {
		return
	}

	if notifier != nil {
		notifier.OnReconnect(func() {
			c.logger.Printf("Connectivity restored, triggering sync")
			c.TriggerSync()
		})
	}

	c.wg.Add(1)
	go c.loop()
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case d := <-c.resetTick:
			ticker.Reset(d)
		case <-ticker.C:
			c.TriggerSync()
		}
	}
}

// TriggerSync starts a background run. This is non-blocking and returns
// immediately; it reports whether a run was started.
func (c *Coordinator) TriggerSync() bool {
	if c.shutdown.Load() {
		return false
	}
	if !c.syncing.CompareAndSwap(false, true) {
		// Already syncing, skip
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.syncing.Store(false)
		_, _ = c.run(c.ctx)
	}()
	return true
}

// SyncNow runs synchronously on the caller's goroutine
func (c *Coordinator) SyncNow(ctx context.Context) (*backendsync.SyncResult, error) {
	if c.shutdown.Load() {
		return nil, fmt.Errorf("coordinator is shut down")
	}
	if !c.syncing.CompareAndSwap(false, true) {
		return nil, backendsync.ErrSyncInProgress
	}
	defer c.syncing.Store(false)
	return c.run(ctx)
}

// IsSyncing reports whether a coordinator-started run is in flight
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load()
}

func (c *Coordinator) run(ctx context.Context) (result *backendsync.SyncResult, err error) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("Panic in sync: %v", r)
			err = fmt.Errorf("sync panicked: %v", r)
			result = nil
		}
		c.notify(result, err)
	}()

	result, err = c.engine.SyncProjects(ctx, c.Options())
	switch {
	case errors.Is(err, backendsync.ErrSyncInProgress):
		// another caller holds the engine; nothing to report
	case errors.Is(err, backendsync.ErrOffline):
		c.logger.Printf("Skipping sync: offline")
	case err != nil:
		c.logger.Printf("Sync error: %v", err)
	case result.Processed() > 0 || result.Pulled > 0 || len(result.Errors) > 0:
		c.logger.Printf("Sync completed: %d created, %d updated, %d deleted, %d pulled, %d conflicts, %d errors",
			result.Created, result.Updated, result.Deleted, result.Pulled, len(result.Conflicts), len(result.Errors))
	}
	return result, err
}

func (c *Coordinator) notify(result *backendsync.SyncResult, err error) {
	c.mu.RLock()
	observers := append([]ResultObserver(nil), c.observers...)
	c.mu.RUnlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Printf("Panic in result observer: %v", r)
				}
			}()
			fn(result, err)
		}()
	}
}

// Shutdown stops the loop, cancels an in-flight run and waits for pending
// work up to timeout. It reports whether everything finished in time.
func (c *Coordinator) Shutdown(timeout time.Duration) bool {
	c.shutdown.Store(true)
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		c.logger.Printf("Warning: Pending syncs did not complete within %v", timeout)
		return false
	}
}
