//go:build windows

package logger

import "os"

// RedirectStdio is a no-op on Windows; the detached daemon there keeps the
// handles it was started with.
func RedirectStdio(*os.File) error { return nil }
