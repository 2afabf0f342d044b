//go:build unix

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	// EPERM: the process exists but belongs to someone else.
	return err == nil || errors.Is(err, unix.EPERM)
}
