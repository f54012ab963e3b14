package main

import (
	"context"
	"time"

	internalsync "projectsync/internal/sync"
	"projectsync/internal/utils"

	"github.com/spf13/cobra"
)

// newBackgroundSyncCmd creates a hidden command that pushes the queue once.
// It is spawned as a separate process so the CLI can exit immediately after
// a change.
func newBackgroundSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    internalsync.BackgroundCommand,
		Hidden: true, // Don't show in help
		Short:  "Internal command for background sync (do not call directly)",
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return nil // Silent fail
			}
			defer func() { _ = app.Close() }()

			cfg := app.config
			if !cfg.Sync.Enabled {
				return nil // Nothing to do
			}

			logPath, _ := cfg.GetLogFilePath()
			bgLogger, err := utils.NewBackgroundLogger(logPath, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
			if err != nil {
				return nil
			}
			defer func() { _ = bgLogger.Close() }()
			utils.SetOutput(bgLogger.Writer())

			opts, err := syncOptions(cfg)
			if err != nil {
				bgLogger.Printf("Invalid sync options: %v", err)
				return nil
			}

			// Give the parent a moment to exit and release the terminal
			time.Sleep(100 * time.Millisecond)

			ctx := context.Background()
			if _, err := app.creds.Resolve(); err != nil {
				bgLogger.Printf("Skipped: %v", err)
				return nil
			}
			// the engine reports ErrOffline itself when the probe fails
			app.monitor.Check(ctx, app.client, cfg.ProbeTimeout())

			// failures are logged; operations remain queued for the next trigger
			_ = internalsync.RunBackgroundSync(ctx, app.engine, opts, internalsync.DefaultBackgroundTimeout, bgLogger)
			return nil
		},
	}

	return cmd
}
