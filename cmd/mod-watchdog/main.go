// Command mod-watchdog watches the workshop mods enabled on a remote game
// server and restarts the server through RCON when one of them was updated.
//
// Modes:
// - check (default): detect updates and run the restart countdown on drift,
// - check --dry-run: same, without stopping the server,
// - refresh: download the server config and rewrite the snapshot and mod list,
// - broadcast: send a single server message.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func fatal(msg string, err error, attrs ...any) {
	args := make([]any, 0, 2+len(attrs))
	args = append(args, "err", err)
	args = append(args, attrs...)
	slog.Error(msg, args...)
	os.Exit(1)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()

	if err != nil && !(interrupted && errors.Is(err, context.Canceled)) {
		fatal("mod-watchdog failed", err)
	}
	if interrupted {
		slog.Info("interrupted")
	}
}
