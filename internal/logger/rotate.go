package logger

import (
	"os"
	"path/filepath"
	"sync"
)

// DefaultRotateBytes is the size past which a log moves to its .old sibling.
const DefaultRotateBytes int64 = 10 << 20

// OldSuffix names the single retained generation of a rotated log.
const OldSuffix = ".old"

// RotateIfLarge renames path to path.old, replacing any previous generation,
// once it reaches limit bytes. A missing file is left alone.
func RotateIfLarge(path string, limit int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < limit {
		return nil
	}
	return os.Rename(path, path+OldSuffix)
}

// OpenAppend opens path for appending, creating it and its directory.
// The *os.File can be handed to a child process as stdout or stderr.
func OpenAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	// #nosec G304
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// RotatingFile is an append-only writer that applies RotateIfLarge before a
// write would push the file past Limit.
type RotatingFile struct {
	Path  string
	Limit int64
	// Stdio, when set, is handed every newly opened file. The detached daemon
	// uses RedirectStdio here so its own stdout and stderr follow rotation.
	Stdio func(*os.File) error

	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewRotatingFile(path string, limit int64) *RotatingFile {
	if limit <= 0 {
		limit = DefaultRotateBytes
	}
	return &RotatingFile{Path: path, Limit: limit}
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.size > 0 && r.size+int64(len(p)) > r.Limit {
		_ = r.f.Close()
		r.f = nil
		if err := os.Rename(r.Path, r.Path+OldSuffix); err != nil && !os.IsNotExist(err) {
			return 0, err
		}
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) open() error {
	if err := RotateIfLarge(r.Path, r.Limit); err != nil {
		return err
	}
	f, err := OpenAppend(r.Path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	r.f = f
	r.size = info.Size()
	if r.Stdio != nil {
		_ = r.Stdio(f)
	}
	return nil
}

func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
