package main

import (
	"context"

	"github.com/spf13/cobra"

	"mod-watchdog/internal/watchdog"
)

var checkDryRun bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for mod updates and restart the server on drift",
	Long: "check downloads the server config when no local copy exists, resolves the enabled\n" +
		"workshop items and compares them with the snapshot. On drift it warns players and\n" +
		"stops the server. With --dry-run the local config must exist, messages are marked\n" +
		"as a test and the server is never stopped.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, checkDryRun)
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Run detection and countdown without stopping the server")
}

func runCheck(cmd *cobra.Command, dryRun bool) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Info("starting mod-watchdog", "mode", mode(dryRun), "server_ini", a.cfg.Paths.ServerINI, "snapshot", a.cfg.Paths.Snapshot)
	return a.guarded(cmd.Context(), !dryRun, func(ctx context.Context, w *watchdog.Watchdog) error {
		return w.Check(ctx, dryRun)
	})
}

func mode(dryRun bool) string {
	if dryRun {
		return watchdog.ModeDryRun
	}
	return watchdog.ModeCheck
}
