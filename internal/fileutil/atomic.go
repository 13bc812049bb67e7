// Package fileutil holds the file helpers shared by every persisted record.
package fileutil

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// AtomicWriteJSON writes v as indented JSON to path atomically.
func AtomicWriteJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data, perm)
}

// AtomicWriteFile writes data to a temporary sibling file and renames it over
// path. Readers observe either the old or the new content, never a partial
// write. The parent directory is created (0700) when missing.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmpFile := path + ".tmp"

	if err := os.WriteFile(tmpFile, data, perm); err != nil {
		return err
	}
	// WriteFile keeps the mode of a leftover temp file
	if err := os.Chmod(tmpFile, perm); err != nil {
		_ = os.Remove(tmpFile)
		return err
	}
	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return err
	}
	return nil
}

// RemoveIfExists removes path and treats a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
