//go:build windows

package process

import (
	"fmt"
	"os"
	"syscall"
)

// Signal terminates pid; Windows has no signal delivery so every signal
// except 0 maps to TerminateProcess.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if sig == 0 {
		if !Alive(pid) {
			return syscall.ESRCH
		}
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func Terminate(pid int) error { return Signal(pid, syscall.SIGTERM) }

func Kill(pid int) error { return Signal(pid, syscall.SIGKILL) }
