//go:build !windows

package process

import (
	"fmt"
	"syscall"
)

// Signal delivers sig to the process group led by pid and falls back to the
// single process when pid does not lead a group.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// Terminate asks pid to exit with SIGTERM.
func Terminate(pid int) error { return Signal(pid, syscall.SIGTERM) }

// Kill forcefully terminates pid with SIGKILL.
func Kill(pid int) error { return Signal(pid, syscall.SIGKILL) }
