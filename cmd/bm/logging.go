package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/loykin/botminter/internal/config"
	"github.com/loykin/botminter/internal/logger"
)

func stderrIsTerminal() bool { return term.IsTerminal(int(os.Stderr.Fd())) }

// newCLILogger logs JSON to <config dir>/logs/bm.log and warnings to stderr.
func newCLILogger() (*slog.Logger, io.Closer) {
	log, closer, err := logger.New(logger.Config{
		File:        filepath.Join(config.Dir(), "logs", "bm.log"),
		Level:       slog.LevelInfo,
		Stderr:      os.Stderr,
		StderrLevel: slog.LevelWarn,
		Color:       stderrIsTerminal(),
	})
	if err != nil {
		// an unwritable config dir must not block the command itself
		log, closer, _ = logger.New(logger.Config{Stderr: os.Stderr, StderrLevel: slog.LevelWarn})
	}
	return log, closer
}

// newDaemonLogger writes the daemon log; a daemon started by hand on a
// terminal also echoes to stderr.
func newDaemonLogger(path string) (*slog.Logger, io.Closer) {
	var echo io.Writer
	if stderrIsTerminal() {
		echo = os.Stderr
	}
	return logger.NewDaemon(path, echo, slog.LevelInfo)
}
