//go:build windows

package process

import (
	"syscall"
	"time"
)

// StartTime returns the creation time of pid, or the zero time when unknown.
func StartTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	h, err := syscall.OpenProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return time.Time{}
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	var creation, exit, kernel, user syscall.Filetime
	if err := syscall.GetProcessTimes(h, &creation, &exit, &kernel, &user); err != nil {
		return time.Time{}
	}
	return time.Unix(0, creation.Nanoseconds())
}
