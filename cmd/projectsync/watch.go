package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	backendsync "projectsync/backend/sync"
	"projectsync/internal/config"
	internalsync "projectsync/internal/sync"
	"projectsync/internal/tui"
	"projectsync/internal/utils"

	"github.com/spf13/cobra"
)

const (
	watchShutdownTimeout = 10 * time.Second
	dashboardRefresh     = 2 * time.Second
	cleanupEvery         = 24 * time.Hour
)

func newWatchCmd() *cobra.Command {
	var useTUI bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing in the foreground",
		Long: `Run the sync daemon: probe the API, push the queue on an interval and as
soon as connectivity returns, and clean up old synced records.

Edits to the config file are picked up without a restart. With --tui a live
status view replaces the log output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("tui") {
				useTUI = config.GetConfig().UI == "tui"
			}
			return runWatch(cmd.OutOrStdout(), useTUI)
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show the interactive status view")
	return cmd
}

func runWatch(out io.Writer, useTUI bool) error {
	app, err := loadApp()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	cfg := app.config
	if !cfg.Sync.Enabled {
		return utils.ErrSyncNotEnabled()
	}
	if _, err := app.creds.Resolve(); err != nil {
		return utils.ErrCredentialsNotFound(app.client.BaseURL())
	}

	opts, err := syncOptions(cfg)
	if err != nil {
		return err
	}

	logPath, err := cfg.GetLogFilePath()
	if err != nil {
		return utils.ErrInvalidConfig("logging.file", err.Error())
	}
	bgLogger, err := utils.NewBackgroundLogger(logPath, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	if err != nil {
		return err
	}
	defer func() { _ = bgLogger.Close() }()

	var logOut io.Writer = os.Stderr
	switch {
	case bgLogger.IsEnabled():
		logOut = bgLogger.Writer()
	case useTUI:
		// the status view owns the terminal
		logOut = io.Discard
	}
	utils.SetOutput(logOut)
	defer utils.SetOutput(os.Stderr)

	ctx, stop := signalContext()
	defer stop()

	coord, err := internalsync.NewCoordinator(app.engine, opts, cfg.SyncInterval())
	if err != nil {
		return err
	}
	coord.SetLogOutput(logOut)

	cleanup := newCleaner(app, cfg.CleanupAge())
	coord.OnResult(func(result *backendsync.SyncResult, err error) {
		if err == nil && result != nil && result.Success {
			cleanup.maybeRun(ctx)
		}
	})

	go app.monitor.Run(ctx, app.client, cfg.ProbeInterval(), cfg.ProbeTimeout())
	coord.Start(app.monitor)

	if path, err := config.GetConfigPath(); err == nil {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				nextOpts, err := syncOptions(next)
				if err != nil {
					utils.Warnf("Ignoring config change: %v", err)
					return
				}
				coord.SetOptions(nextOpts)
				coord.SetInterval(next.SyncInterval())
				cleanup.setMaxAge(next.CleanupAge())
				utils.SetVerboseMode(next.Logging.Verbose)
			})
			if err != nil {
				utils.Warnf("Config changes will not be picked up: %v", err)
			}
		}()
	}

	var runErr error
	if useTUI {
		status := func(ctx context.Context) (*backendsync.Status, error) {
			return app.engine.Status(ctx, coord.Options().MaxRetries)
		}
		program, done := tui.Run(ctx, tui.NewModel(status, coord.TriggerSync, dashboardRefresh))
		coord.OnResult(func(result *backendsync.SyncResult, err error) {
			program.Send(tui.ResultMsg{Result: result, Err: err})
		})
		runErr = <-done
		if ctx.Err() != nil {
			// interrupted, not a dashboard failure
			runErr = nil
		}
		stop()
	} else {
		fmt.Fprintf(out, "Watching %s every %s (Ctrl+C to stop)\n", app.client.BaseURL(), coord.Interval())
		if bgLogger.IsEnabled() {
			fmt.Fprintf(out, "Logging to %s\n", bgLogger.GetLogPath())
		}
		<-ctx.Done()
	}

	if !coord.Shutdown(watchShutdownTimeout) {
		utils.Warnf("Sync did not stop within %s", watchShutdownTimeout)
	}
	return runErr
}
