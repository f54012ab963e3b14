package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"projectsync/backend"
	backendsync "projectsync/backend/sync"
	"projectsync/internal/cli"
	"projectsync/internal/utils"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the sync command with all subcommands
func newSyncCmd() *cobra.Command {
	var force bool
	var pull bool
	var strategy string

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes to the project API",
		Long: `Drain the local operation queue against the project API.

Queued creates, updates and deletes are sent oldest first. Conflicts with
newer server state are settled by the configured strategy (server-wins,
client-wins, timestamp-based or manual).

Examples:
  projectsync sync                        # Push the queue
  projectsync sync --pull                 # Push, then refresh from the server
  projectsync sync --strategy client-wins # Override the configured strategy
  projectsync sync --force                # Try even if the API looks offline

  projectsync sync status                 # Queue depth, last run, conflicts
  projectsync sync queue                  # Show queued operations
  projectsync sync queue retry            # Give dead letters another round
  projectsync sync conflicts              # Conflicts waiting for a decision`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if !app.config.Sync.Enabled {
				return utils.ErrSyncNotEnabled()
			}

			opts, err := syncOptions(app.config)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("strategy") {
				s, err := backendsync.ParseStrategy(strategy)
				if err != nil {
					return utils.ErrInvalidStrategy(strategy, validStrategies())
				}
				opts.Strategy = s
			}
			if cmd.Flags().Changed("pull") {
				opts.Pull = pull
			}
			opts.Force = force

			ctx, stop := signalContext()
			defer stop()

			if err := app.requireOnline(ctx); err != nil && !force {
				return err
			}

			result, err := app.engine.SyncProjects(ctx, opts)
			switch {
			case errors.Is(err, backendsync.ErrOffline):
				return utils.ErrOffline(app.monitor.Reason(), err)
			case errors.Is(err, backendsync.ErrSyncInProgress):
				return utils.ErrSyncBusy(err)
			case err != nil:
				return fmt.Errorf("sync failed: %w", err)
			}

			cli.PrintSyncResult(cmd.OutOrStdout(), result)

			if authFailed(result) {
				return utils.ErrAuthenticationFailed(app.client.BaseURL())
			}
			if n := unresolvedCount(result); n > 0 {
				return utils.ErrOpenConflicts(n)
			}
			return nil
		},
	}

	syncCmd.Flags().BoolVar(&force, "force", false, "sync even when the API looks offline")
	syncCmd.Flags().BoolVar(&pull, "pull", false, "refresh the local store from the server after pushing")
	syncCmd.Flags().StringVar(&strategy, "strategy", "", "conflict strategy for this run")
	_ = syncCmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return validStrategies(), cobra.ShellCompDirectiveNoFileComp
	})

	syncCmd.AddCommand(newSyncStatusCmd())
	syncCmd.AddCommand(newSyncQueueCmd())
	syncCmd.AddCommand(newSyncConflictsCmd())
	syncCmd.AddCommand(newSyncPullCmd())

	return syncCmd
}

func authFailed(result *backendsync.SyncResult) bool {
	for _, e := range result.Errors {
		var be *backend.BackendError
		if errors.As(e.Err, &be) && be.IsUnauthorized() {
			return true
		}
	}
	return false
}

func unresolvedCount(result *backendsync.SyncResult) int {
	n := 0
	for _, c := range result.Conflicts {
		if c.Unresolved {
			n++
		}
	}
	return n
}

// newSyncStatusCmd creates the 'sync status' command
func newSyncStatusCmd() *cobra.Command {
	var format string
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Display the current synchronization status:
- Connectivity to the project API
- Last successful sync and the outcome of the last run
- Queued operations and dead letters
- Conflicts waiting for a decision`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx := context.Background()
			if !offline {
				// populates the monitor; failure only shows up as offline
				_ = app.requireOnline(ctx)
			}

			status, err := app.engine.Status(ctx, app.maxRetries())
			if err != nil {
				return err
			}

			if handled, err := utils.WriteOutput(cmd.OutOrStdout(), format, status); handled {
				return err
			}
			cli.PrintStatus(cmd.OutOrStdout(), status)
			if !status.Online && app.monitor.Reason() != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Offline reason: %s\n", app.monitor.Reason())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", utils.FormatText, "output format: text, json, yaml")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the connectivity probe")
	return cmd
}

// newSyncQueueCmd creates the 'sync queue' command
func newSyncQueueCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show queued operations",
		Long: `List every queued operation in the order it will be sent.

Entries that reached the retry ceiling are dead letters: they stay in the
queue, and keep later changes to the same project waiting, until they are
retried or purged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			entries, err := app.db.Queue().All(context.Background())
			if err != nil {
				return err
			}

			if handled, err := utils.WriteOutput(cmd.OutOrStdout(), format, entries); handled {
				return err
			}
			cli.PrintQueue(cmd.OutOrStdout(), entries, app.maxRetries())
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", utils.FormatText, "output format: text, json, yaml")

	cmd.AddCommand(newSyncQueueRetryCmd())
	cmd.AddCommand(newSyncQueuePurgeCmd())
	return cmd
}

func newSyncQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset the retry count of dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx := context.Background()
			ids, err := app.db.Queue().ResetRetries(ctx, app.maxRetries())
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := app.db.Store().SetSyncStatus(ctx, id, backend.SyncStatusPending); err != nil {
					utils.Warnf("Could not mark %s pending: %v", id, err)
				}
			}

			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d project(s) will be retried on the next sync\n", len(ids))
			return nil
		},
	}
}

func newSyncQueuePurgeCmd() *cobra.Command {
	var olderThanDays int
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop dead letters from the queue",
		Long: `Permanently drop dead letters. The local change they carried is never
sent; the next pull overwrites the local record with the server state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			var before time.Time
			if olderThanDays > 0 {
				before = time.Now().AddDate(0, 0, -olderThanDays)
			}

			if !yes && !utils.PromptYesNo("Drop dead letters permanently?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			n, err := app.db.Queue().PurgeDeadLetters(context.Background(), app.maxRetries(), before)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Purged %d dead letter(s)\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "only entries queued more than N days ago")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// newSyncConflictsCmd creates the 'sync conflicts' command
func newSyncConflictsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Show conflicts waiting for a decision",
		Long: `List conflicts held back by the manual strategy. The queued change for
each project waits until the conflict is resolved.

Examples:
  projectsync sync conflicts
  projectsync sync conflicts resolve 3 --keep server
  projectsync sync conflicts resolve 3 --keep local
  projectsync sync conflicts resolve 3 --set status=active --set budget='{"amount":1200}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			conflicts, err := app.db.Conflicts().ListOpen(context.Background())
			if err != nil {
				return err
			}

			if handled, err := utils.WriteOutput(cmd.OutOrStdout(), format, conflicts); handled {
				return err
			}
			cli.PrintConflicts(cmd.OutOrStdout(), conflicts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", utils.FormatText, "output format: text, json, yaml")

	cmd.AddCommand(newSyncConflictsResolveCmd())
	return cmd
}

func newSyncConflictsResolveCmd() *cobra.Command {
	var keep string
	var set []string

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Settle a pending conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid conflict id %q", args[0])
			}

			decision, err := conflictDecision(keep, set)
			if err != nil {
				return err
			}

			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			err = app.engine.ResolveConflict(context.Background(), id, decision)
			switch {
			case errors.Is(err, backendsync.ErrConflictNotFound):
				return utils.WrapWithSuggestion(err, "Run 'projectsync sync conflicts' to list open conflicts")
			case errors.Is(err, backendsync.ErrSyncInProgress):
				return utils.ErrSyncBusy(err)
			case err != nil:
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Conflict %d resolved (%s)\n", id, decision.Choice)
			if decision.Choice != backendsync.KeepServer {
				fmt.Fprintln(cmd.OutOrStdout(), "The change will be pushed on the next sync")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keep, "keep", "", "side to keep: server or local")
	cmd.Flags().StringArrayVar(&set, "set", nil, "custom field value key=value (repeatable)")
	return cmd
}

// conflictDecision maps the resolve flags onto an engine decision
func conflictDecision(keep string, set []string) (backendsync.ConflictDecision, error) {
	if len(set) > 0 {
		if keep != "" {
			return backendsync.ConflictDecision{}, fmt.Errorf("--keep and --set are mutually exclusive")
		}
		fields, err := parseAssignments(set)
		if err != nil {
			return backendsync.ConflictDecision{}, err
		}
		return backendsync.ConflictDecision{Choice: backendsync.UseCustom, Fields: fields}, nil
	}

	switch keep {
	case "server":
		return backendsync.ConflictDecision{Choice: backendsync.KeepServer}, nil
	case "local":
		return backendsync.ConflictDecision{Choice: backendsync.KeepLocal}, nil
	case "":
		return backendsync.ConflictDecision{}, fmt.Errorf("one of --keep or --set is required")
	}
	return backendsync.ConflictDecision{}, fmt.Errorf("--keep must be 'server' or 'local', got %q", keep)
}

// newSyncPullCmd creates the 'sync pull' command
func newSyncPullCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Refresh the local store from the server",
		Long: `Fetch projects from the server and store them locally. Records with
queued local changes are left alone so nothing unsent is lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if !cmd.Flags().Changed("limit") && app.config.Sync.PullLimit > 0 {
				limit = app.config.Sync.PullLimit
			}

			ctx, stop := signalContext()
			defer stop()

			if err := app.requireOnline(ctx); err != nil {
				return err
			}

			n, err := app.engine.Pull(ctx, limit)
			if errors.Is(err, backendsync.ErrSyncInProgress) {
				return utils.ErrSyncBusy(err)
			}
			if err != nil {
				var be *backend.BackendError
				if errors.As(err, &be) && be.IsUnauthorized() {
					return utils.ErrAuthenticationFailed(app.client.BaseURL())
				}
				return fmt.Errorf("pull failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pulled %d project(s)\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", backendsync.DefaultPullLimit, "maximum number of projects to fetch")
	return cmd
}
