package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMove_FileIntoNewDirectory(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "mods", "a.tga")
	dst := filepath.Join(tempDir, "game", "Override", "a.tga")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("texture"), 0o644))

	require.NoError(t, Move(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "texture", string(got))
	assert.NoFileExists(t, src)
}

func TestMove_Directory(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "extracted")
	dst := filepath.Join(tempDir, "moved")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.2da"), []byte("2da"), 0o644))

	require.NoError(t, Move(src, dst))

	assert.FileExists(t, filepath.Join(dst, "sub", "b.2da"))
	assert.NoDirExists(t, src)
}

func TestMove_Errors(t *testing.T) {
	tempDir := t.TempDir()

	err := Move(filepath.Join(tempDir, "missing"), filepath.Join(tempDir, "dst"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat source")

	err = Move("", "dst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestIsCrossFilesystemError(t *testing.T) {
	assert.False(t, isCrossFilesystemError(nil))
	assert.False(t, isCrossFilesystemError(errors.New("permission denied")))
	assert.True(t, isCrossFilesystemError(errors.New("invalid cross-device link")))
	assert.True(t, isCrossFilesystemError(&os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.EXDEV}))
}

func TestCopy_PreservesModeAndTime(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on Windows")
	}
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "patcher")
	dst := filepath.Join(tempDir, "copy", "patcher")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755))
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, stamp, stamp))

	require.NoError(t, Copy(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(stamp))
	assert.FileExists(t, src)
}

func TestCopyTree(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b", "c.txt"), []byte("c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "root.txt"), []byte("r"), 0o644))

	dst := filepath.Join(tempDir, "dst")
	require.NoError(t, CopyTree(src, dst))

	assert.FileExists(t, filepath.Join(dst, "a", "b", "c.txt"))
	assert.FileExists(t, filepath.Join(dst, "root.txt"))
	assert.FileExists(t, filepath.Join(src, "root.txt"))
}
