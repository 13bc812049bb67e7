//go:build !windows

package logger

import (
	"os"

	"golang.org/x/sys/unix"
)

// RedirectStdio points the process's stdout and stderr at f.
func RedirectStdio(f *os.File) error {
	fd := int(f.Fd())
	if err := unix.Dup2(fd, int(os.Stdout.Fd())); err != nil {
		return err
	}
	return unix.Dup2(fd, int(os.Stderr.Fd()))
}
