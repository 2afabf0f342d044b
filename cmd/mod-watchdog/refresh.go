package main

import (
	"context"

	"github.com/spf13/cobra"

	"mod-watchdog/internal/watchdog"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the server config and rewrite the snapshot and mod list",
	Long:  "refresh records the current update times of all enabled mods without restarting anything.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		a.log.Info("starting mod-watchdog", "mode", watchdog.ModeRefresh, "modlist", a.cfg.Paths.ModList)
		return a.guarded(cmd.Context(), true, func(ctx context.Context, w *watchdog.Watchdog) error {
			return w.Refresh(ctx)
		})
	},
}
