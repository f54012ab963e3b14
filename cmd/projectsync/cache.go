package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"projectsync/internal/utils"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the local store",
	}

	cmd.AddCommand(newCachePurgeCmd())
	cmd.AddCommand(newCacheInfoCmd())
	return cmd
}

func newCachePurgeCmd() *cobra.Command {
	var days int
	var vacuum bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove synced projects not touched for a while",
		Long: `Remove projects that are fully synced and were last synced more than N
days ago. Projects with pending or failed changes are always kept; a later
pull brings purged records back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			maxAge := app.config.CleanupAge()
			if cmd.Flags().Changed("days") {
				if days <= 0 {
					return fmt.Errorf("--days must be positive")
				}
				maxAge = time.Duration(days) * 24 * time.Hour
			}

			var n int64
			err = utils.LogOperation("purge synced projects", func() error {
				var err error
				n, err = app.db.Store().PurgeSynced(context.Background(), time.Now().Add(-maxAge))
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d synced project(s) older than %d days\n", n, int(maxAge.Hours()/24))

			if vacuum {
				if err := utils.LogOperation("vacuum database", app.db.Vacuum); err != nil {
					return fmt.Errorf("vacuum failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Database compacted")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "age threshold in days (default: sync.cleanup_days or 30)")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "compact the database file afterwards")
	return cmd
}

func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show where the local store lives and what it holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			stats, err := app.db.GetStats(context.Background(), app.maxRetries())
			if err != nil {
				return err
			}
			version, err := app.db.GetSchemaVersion()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Database: %s (schema v%d)\n", app.db.Path(), version)
			fmt.Fprintln(cmd.OutOrStdout(), stats.String())
			return nil
		},
	}
}

// cleaner purges old synced records from the daemon at most once per
// cleanupEvery
type cleaner struct {
	app *App

	mu      sync.Mutex
	maxAge  time.Duration
	lastRun time.Time
}

func newCleaner(app *App, maxAge time.Duration) *cleaner {
	return &cleaner{app: app, maxAge: maxAge}
}

func (c *cleaner) setMaxAge(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxAge = d
}

func (c *cleaner) maybeRun(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.lastRun.IsZero() && now.Sub(c.lastRun) < cleanupEvery {
		return
	}
	c.lastRun = now

	n, err := c.app.db.Store().PurgeSynced(ctx, now.Add(-c.maxAge))
	if err != nil {
		utils.Warnf("Cleanup failed: %v", err)
		return
	}
	if n > 0 {
		utils.Infof("Cleanup removed %d synced project(s)", n)
	}
}
