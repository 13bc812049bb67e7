//go:build windows

package process

import "syscall"

const processQueryInformation = 0x0400

// Alive reports whether a handle can be opened for pid.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	_ = syscall.CloseHandle(h)
	return true
}
