package sync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	backendsync "projectsync/backend/sync"
	"projectsync/internal/utils"
)

// BackgroundCommand is the hidden CLI command a detached push runs
const BackgroundCommand = "_internal_background_sync"

// DefaultBackgroundTimeout bounds a detached push
const DefaultBackgroundTimeout = 60 * time.Second

// SpawnBackgroundSync spawns a detached process that drains the queue, so the
// CLI can exit right after an offline-capable mutation.
func SpawnBackgroundSync(args ...string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return err
	}

	cmd := exec.Command(executable, append([]string{BackgroundCommand}, args...)...)
	detach(cmd)

	// Redirect all I/O to /dev/null
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	// Don't wait; the parent exits immediately
	return cmd.Start()
}

// RunBackgroundSync performs one bounded run for the detached process and
// reports the outcome to bgLogger. Offline and busy are normal outcomes, not
// errors: the queue simply waits for the next trigger.
func RunBackgroundSync(ctx context.Context, engine Syncer, opts backendsync.SyncOptions, timeout time.Duration, bgLogger *utils.BackgroundLogger) error {
	if timeout <= 0 {
		timeout = DefaultBackgroundTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bgLogger.Printf("Started background sync at %s", time.Now().Format(time.RFC3339))

	result, err := engine.SyncProjects(ctx, opts)
	switch {
	case errors.Is(err, backendsync.ErrOffline):
		bgLogger.Printf("Skipped: offline")
		return nil
	case errors.Is(err, backendsync.ErrSyncInProgress):
		bgLogger.Printf("Skipped: another sync is running")
		return nil
	case err != nil:
		bgLogger.Printf("Sync error: %v", err)
		return err
	}

	bgLogger.Printf("Finished: %d processed, %d deferred, %d conflicts, %d errors (aborted=%v)",
		result.Processed(), result.Deferred, len(result.Conflicts), len(result.Errors), result.Aborted)
	for _, e := range result.Errors {
		bgLogger.Printf("  %s %s: %v", e.Operation, e.EntityID, e.Err)
	}
	return nil
}
