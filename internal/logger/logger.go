// Package logger builds the slog loggers used by the CLI and the daemon.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation for the CLI diagnostic log.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the CLI diagnostic log. The file receives JSON records at
// Level and above; Stderr receives text records at StderrLevel and above.
type Config struct {
	File        string // empty disables the file
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
	Level       slog.Level
	Stderr      io.Writer // nil disables the console output
	StderrLevel slog.Level
	Color       bool
}

// FileWriter returns the rotating writer for c.File.
func (c Config) FileWriter() io.WriteCloser {
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the logger described by c. The returned closer releases the
// log file and is safe to call when no file was configured.
func New(c Config) (*slog.Logger, io.Closer, error) {
	var (
		handlers []slog.Handler
		closer   io.Closer = nopCloser{}
	)
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0o700); err != nil {
			return nil, nil, err
		}
		w := c.FileWriter()
		closer = w
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.Level}))
	}
	if c.Stderr != nil {
		opts := &slog.HandlerOptions{Level: c.StderrLevel}
		if c.Color {
			handlers = append(handlers, NewColorTextHandler(c.Stderr, opts, false))
		} else {
			handlers = append(handlers, slog.NewTextHandler(c.Stderr, opts))
		}
	}
	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closer, nil
	case 1:
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(fanout(handlers)), closer, nil
}

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewDaemon builds the daemon logger: line records appended to a RotatingFile
// at path, repeated on echo when it is non-nil (a foreground run on a
// terminal). When stdout already is the log (a detached daemon), stdout and
// stderr are moved to each new file after rotation.
func NewDaemon(path string, echo io.Writer, level slog.Leveler) (*slog.Logger, io.Closer) {
	f := NewRotatingFile(path, DefaultRotateBytes)
	if stdoutIs(path) {
		f.Stdio = RedirectStdio
	}
	h := slog.Handler(NewLineHandler(f, level))
	if echo != nil {
		h = fanout{h, NewLineHandler(echo, level)}
	}
	return slog.New(h), f
}

func stdoutIs(path string) bool {
	out, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && os.SameFile(out, info)
}
