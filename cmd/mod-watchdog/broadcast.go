package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mod-watchdog/internal/watchdog"
)

var broadcastTest bool

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <message...>",
	Short: "Send a message to all connected players",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := strings.TrimSpace(strings.Join(args, " "))
		if msg == "" {
			return fmt.Errorf("message must not be empty")
		}
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.guarded(cmd.Context(), false, func(ctx context.Context, w *watchdog.Watchdog) error {
			return w.Broadcast(ctx, msg, broadcastTest)
		})
	},
}

func init() {
	broadcastCmd.Flags().BoolVar(&broadcastTest, "test", false, "Mark the message as a test")
}
