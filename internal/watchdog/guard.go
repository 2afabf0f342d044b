package watchdog

import (
	"errors"
	"log/slog"

	"mod-watchdog/internal/lock"
)

// Guard runs fn while holding the advisory lock at path. When another live
// process holds the lock, fn is not called and Guard returns nil. The lock is
// released on every return path, including when fn returns after its context
// was cancelled by a signal.
func Guard(log *slog.Logger, path string, fn func() error) error {
	if log == nil {
		log = slog.Default()
	}
	l, err := lock.Acquire(path)
	if errors.Is(err, lock.ErrHeld) {
		log.Info("another instance is running, exiting", "err", err)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			log.Error("release lock failed", "path", path, "err", err)
		}
	}()
	return fn()
}
