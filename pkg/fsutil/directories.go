// Package fsutil provides file system helpers and permission constants shared
// by the real provider, the download cache and the configuration layer.
package fsutil

import (
	"os"
	"path/filepath"
)

// EnsureDir creates a directory and all missing parents with DirModeDefault.
func EnsureDir(path string) error {
	return os.MkdirAll(path, DirModeDefault)
}

// EnsureFileDir creates the parent directory of a file path if it doesn't exist.
func EnsureFileDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether anything exists at path. Dangling symlinks count as existing.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
