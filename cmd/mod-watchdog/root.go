package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mod-watchdog/internal/config"
	"mod-watchdog/internal/delivery"
	"mod-watchdog/internal/history"
	"mod-watchdog/internal/journal"
	"mod-watchdog/internal/logging"
	"mod-watchdog/internal/rcon"
	"mod-watchdog/internal/retry"
	"mod-watchdog/internal/watchdog"
	"mod-watchdog/internal/workshop"
)

var (
	configFile string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "mod-watchdog",
	Short: "Restart a game server when its workshop mods are updated",
	Long: "mod-watchdog compares the update times of the workshop mods enabled on a server\n" +
		"with the last observed ones and restarts the server through RCON after a\n" +
		"player countdown when any of them changed.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, false)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to the settings file (default: config.yaml in . or config/)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with credentials")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(broadcastCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
}

// app is the per-invocation state shared by the commands.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	runID string

	logCloser io.Closer
}

// setup loads credentials and settings and installs the run logger as the
// default and on the command context.
func setup(cmd *cobra.Command) (*app, error) {
	runID := journal.MakeRunID()
	slog.SetDefault(slog.Default().With("run_id", runID))

	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log, closer := logging.New(logging.Options{
		Console:   cmd.ErrOrStderr(),
		Level:     level,
		FilePath:  cfg.Paths.LogFile,
		FileLevel: slog.LevelWarn,
	})
	log = log.With("run_id", runID)
	slog.SetDefault(log)
	cmd.SetContext(logging.NewContext(cmd.Context(), log))

	return &app{cfg: cfg, log: log, runID: runID, logCloser: closer}, nil
}

func (a *app) Close() {
	if err := a.logCloser.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

// guarded validates the credentials the mode needs, takes the instance lock
// and runs fn with a fully wired Watchdog.
func (a *app) guarded(ctx context.Context, needTransfer bool, fn func(ctx context.Context, w *watchdog.Watchdog) error) error {
	if err := a.cfg.Validate(needTransfer); err != nil {
		return err
	}
	return watchdog.Guard(a.log, a.cfg.Paths.Lock, func() error {
		w, closeDeps, err := a.watchdog(needTransfer)
		if err != nil {
			return err
		}
		defer closeDeps()
		return fn(ctx, w)
	})
}

func (a *app) watchdog(needTransfer bool) (*watchdog.Watchdog, func(), error) {
	cfg := a.cfg
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := watchdog.Deps{
		Console: rcon.NewConsole(rcon.Dialer{
			Addr:     cfg.RCONAddr,
			Password: cfg.RCONPassword,
			Timeout:  cfg.RCONTimeout,
		}),
		Sleep: retry.Sleep,
		RunID: a.runID,
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Steam.MaxAttempts
	deps.Fetcher = workshop.NewFetcher(workshop.Options{
		APIKey:     cfg.Steam.APIKey,
		UseKeyed:   cfg.Steam.UsePFS,
		BatchSize:  cfg.Steam.BatchSize,
		Timeout:    cfg.Steam.Timeout,
		BatchPause: cfg.Steam.BatchPause,
		Retry:      policy,
	}, nil, retry.Sleep, a.log)

	if needTransfer {
		deps.Delivery = delivery.NewSFTP(delivery.Options{
			Addr:       cfg.SFTPAddr,
			User:       cfg.SFTPUser,
			Password:   cfg.SFTPPassword,
			KnownHosts: cfg.KnownHosts,
		}, a.log)
	}

	if cfg.Paths.Journal != "" {
		jl, err := journal.New(cfg.Paths.Journal, a.runID)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal %s: %w", cfg.Paths.Journal, err)
		}
		deps.Journal = jl
		closers = append(closers, func() { _ = jl.Close() })
		a.log.Debug("journal enabled", "path", cfg.Paths.Journal)
	}
	if cfg.Paths.History != "" {
		hs, err := history.Open(cfg.Paths.History)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open history %s: %w", cfg.Paths.History, err)
		}
		deps.History = hs
		closers = append(closers, func() { _ = hs.Close() })
		a.log.Debug("history enabled", "path", cfg.Paths.History)
	}

	return watchdog.New(cfg, deps, a.log), closeAll, nil
}
