// Package lock is a single-instance guard backed by a PID file.
//
// A lock file whose recorded owner is no longer running is stale and gets
// reclaimed.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var ErrHeld = errors.New("lock: held by another process")

// HeldError carries the PID of the live owner.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock: %s held by pid %d", e.Path, e.PID)
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

type Lock struct {
	path string
	pid  int

	once sync.Once
	err  error
}

// Acquire takes the lock at path for the current process.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lock: mkdir: %w", err)
		}
	}
	self := os.Getpid()

	// Two passes: the second one follows a stale-lock removal.
	for pass := 0; pass < 2; pass++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(self) + "\n")
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("lock: write pid: %w", errors.Join(werr, cerr))
			}
			return &Lock{path: path, pid: self}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock: create: %w", err)
		}

		owner, ok := readOwner(path)
		if ok && owner != self && processAlive(owner) {
			return nil, &HeldError{Path: path, PID: owner}
		}
		// Stale, unreadable, or left behind by this very PID.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("lock: remove stale: %w", err)
		}
	}
	return nil, fmt.Errorf("lock: %s: lost race reclaiming stale lock", path)
}

func (l *Lock) Path() string { return l.path }

// Release removes the lock file if it still names this process. It is safe to
// call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		owner, ok := readOwner(l.path)
		if !ok || owner != l.pid {
			return
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = fmt.Errorf("lock: remove: %w", err)
		}
	})
	return l.err
}

func readOwner(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
