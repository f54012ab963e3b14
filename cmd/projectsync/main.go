package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"projectsync/backend/api"
	"projectsync/backend/sqlite"
	backendsync "projectsync/backend/sync"
	"projectsync/internal/config"
	"projectsync/internal/credentials"
	"projectsync/internal/network"
	"projectsync/internal/utils"

	"github.com/spf13/cobra"
)

// App bundles the components every command works with
type App struct {
	config  *config.Config
	db      *sqlite.Database
	creds   *credentials.Resolver
	client  *api.Client
	monitor *network.Monitor
	engine  *backendsync.Engine
	mutator *backendsync.Mutator
}

// NewApp opens the local store and wires the sync engine. Nothing here touches
// the network.
func NewApp(cfg *config.Config) (*App, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	baseURL := cfg.API.BaseURL
	if env := credentials.GetEnvBaseURL(); env != "" {
		baseURL = env
	}
	creds := credentials.NewResolver(baseURL, cfg.API.Username, cfg.API.Token)
	client := api.NewClient(baseURL, creds, cfg.APITimeout())

	// Offline until a probe says otherwise
	monitor := network.NewMonitor(false)

	engine := backendsync.NewEngine(db, client, monitor,
		backendsync.WithRetryBackoff(cfg.RetryBackoff()))

	return &App{
		config:  cfg,
		db:      db,
		creds:   creds,
		client:  client,
		monitor: monitor,
		engine:  engine,
		mutator: backendsync.NewMutator(db),
	}, nil
}

func openDatabase(cfg *config.Config) (*sqlite.Database, error) {
	path, err := cfg.GetDatabasePath()
	if err != nil {
		return nil, utils.ErrInvalidConfig("database.path", err.Error())
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return db, nil
}

func loadApp() (*App, error) {
	return NewApp(config.GetConfig())
}

// Close releases the local store
func (a *App) Close() error {
	return a.db.Close()
}

// syncOptions maps the sync section of the config onto engine options
func syncOptions(cfg *config.Config) (backendsync.SyncOptions, error) {
	opts := backendsync.DefaultSyncOptions()

	strategy, err := backendsync.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return opts, utils.ErrInvalidStrategy(cfg.Sync.Strategy, validStrategies())
	}
	opts.Strategy = strategy
	if cfg.Sync.BatchSize > 0 {
		opts.BatchSize = cfg.Sync.BatchSize
	}
	if cfg.Sync.MaxRetries > 0 {
		opts.MaxRetries = cfg.Sync.MaxRetries
	}
	if cfg.Sync.PullLimit > 0 {
		opts.PullLimit = cfg.Sync.PullLimit
	}
	opts.Pull = cfg.Sync.AutoPull
	return opts, nil
}

func validStrategies() []string {
	return []string{
		string(backendsync.ServerWins),
		string(backendsync.ClientWins),
		string(backendsync.TimestampBased),
		string(backendsync.Manual),
	}
}

// maxRetries returns the retry ceiling used to tell dead letters apart
func (a *App) maxRetries() int {
	if a.config.Sync.MaxRetries > 0 {
		return a.config.Sync.MaxRetries
	}
	return backendsync.DefaultMaxRetries
}

// requireOnline resolves the token and probes the API once. The returned
// error carries a suggestion for the user.
func (a *App) requireOnline(ctx context.Context) error {
	if _, err := a.creds.Resolve(); err != nil {
		return utils.ErrCredentialsNotFound(a.client.BaseURL())
	}
	if !a.monitor.Check(ctx, a.client, a.config.ProbeTimeout()) {
		return utils.ErrOffline(a.monitor.Reason(), backendsync.ErrOffline)
	}
	return nil
}

// signalContext is cancelled on Ctrl+C so a running sync aborts cleanly
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// configPath is forwarded to spawned background runs
var configPath string

func backgroundArgs() []string {
	if configPath == "" {
		return nil
	}
	return []string{"--config", configPath}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "projectsync",
		Short: "Offline-first project synchronization",
		Long: `Manage projects in a local SQLite store and synchronize them with the
project API whenever the network allows.

Every change is applied locally first and queued. The queue is pushed to the
server by 'projectsync sync', by the 'projectsync watch' daemon, or by a short
background run spawned after each change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Flags().Changed("config") {
				config.SetCustomConfigPath(configPath)
			}
			cfg := config.GetConfig()
			utils.SetVerboseMode(verbose || cfg.Logging.Verbose)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file or directory (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newProjectCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newCredentialsCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newBackgroundSyncCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
