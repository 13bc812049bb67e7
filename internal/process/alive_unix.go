//go:build !windows

package process

import (
	"errors"
	"math"
	"syscall"
)

// Alive reports whether pid refers to a live process. Signal 0 runs the
// kernel's existence and permission checks without delivering anything;
// EPERM still means the process exists. Zombies count as dead.
func Alive(pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	if err := syscall.Kill(pid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	return !isZombie(pid)
}
