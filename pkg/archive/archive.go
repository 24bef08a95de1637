// Package archive treats compressed containers as an opaque capability: list
// the entries, extract everything, and create archives for packing or tests.
// Format detection and decoding are delegated to github.com/mholt/archives.
package archive

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/archives"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/fsutil"
)

// Entry is one item in an archive's table of contents.
type Entry struct {
	// Name is the slash separated path inside the archive.
	Name  string
	Size  int64
	IsDir bool
}

// Manager handles archive listing, extraction and creation.
type Manager struct{}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{}
}

type stream interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

var archiveSuffixes = []string{
	".zip", ".7z", ".rar", ".tar",
	".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.xz", ".txz", ".tar.zst", ".tar.lz4",
}

// LooksLikeArchive reports whether name carries a known archive extension.
func LooksLikeArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// IsArchive reports whether the file at archivePath is an archive that can be
// extracted. A compressed single file such as foo.gz is not.
func (am *Manager) IsArchive(ctx context.Context, archivePath string) (bool, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return false, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	_, err = identify(ctx, archivePath, file)
	if stderrors.Is(err, errors.ErrNotAnArchive) {
		return false, nil
	}
	return err == nil, err
}

// List returns the table of contents of the archive at archivePath, sorted
// by entry name.
func (am *Manager) List(ctx context.Context, archivePath string) ([]Entry, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return listStream(ctx, archivePath, file)
}

// ListNested returns the table of contents of an archive stored inside
// another archive. chain names the entry at each nesting level, outermost
// first.
func (am *Manager) ListNested(ctx context.Context, archivePath string, chain []string) ([]Entry, error) {
	if len(chain) == 0 {
		return am.List(ctx, archivePath)
	}
	data, err := am.ReadNested(ctx, archivePath, chain)
	if err != nil {
		return nil, err
	}
	return am.ListBytes(ctx, chain[len(chain)-1], data)
}

// ListBytes returns the table of contents of an archive held in memory.
func (am *Manager) ListBytes(ctx context.Context, name string, data []byte) ([]Entry, error) {
	return listStream(ctx, name, bytes.NewReader(data))
}

// ReadNested returns the contents of the entry addressed by chain, where
// each element names an entry inside the archive selected by the previous
// one.
func (am *Manager) ReadNested(ctx context.Context, archivePath string, chain []string) ([]byte, error) {
	if len(chain) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidPath, "no entry requested from %s", archivePath)
	}
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var (
		current stream = file
		name           = archivePath
		data    []byte
	)
	for _, inner := range chain {
		data, err = readEntry(ctx, name, current, inner)
		if err != nil {
			return nil, err
		}
		current = bytes.NewReader(data)
		name = inner
	}
	return data, nil
}

// ExtractAll extracts all files from an archive to destDir and returns the
// slash separated paths of the written files relative to destDir.
func (am *Manager) ExtractAll(ctx context.Context, archivePath, destDir string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	ex, err := identify(ctx, archivePath, file)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, fsutil.DirModeDefault); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	var written []string
	err = ex.Extract(ctx, file, func(ctx context.Context, info archives.FileInfo) error {
		name, ok := cleanName(info.NameInArchive)
		if !ok {
			return nil
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))
		if !withinDir(destDir, target) {
			return errors.Wrapf(errors.ErrInvalidPath, "archive entry %q escapes destination", info.NameInArchive)
		}
		if info.IsDir() {
			return os.MkdirAll(target, fsutil.DirModeDefault)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return writeSymlink(info, target)
		}
		if err := writeRegularFile(info, target); err != nil {
			return err
		}
		written = append(written, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}
	sort.Strings(written)
	return written, nil
}

// Create creates an archive from the specified source directory. The format
// follows the extension of archivePath: .zip produces a zip file, anything
// else a gzip compressed tarball.
func (am *Manager) Create(ctx context.Context, sourceDir, archivePath string) error {
	absolutePath, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for source directory: %w", err)
	}

	archiveFiles, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		absolutePath + string(os.PathSeparator): "",
	})
	if err != nil {
		return fmt.Errorf("failed to read files from disk: %w", err)
	}

	if err := fsutil.EnsureFileDir(archivePath); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", archivePath, err)
	}
	file, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", archivePath, err)
	}
	defer func() {
		_ = file.Sync()
		_ = file.Close()
	}()

	var format archives.Archiver = archives.CompressedArchive{
		Compression: archives.Gz{},
		Archival:    archives.Tar{},
	}
	if strings.EqualFold(filepath.Ext(archivePath), ".zip") {
		format = archives.Zip{}
	}

	if err := format.Archive(ctx, file, archiveFiles); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	return nil
}

func identify(ctx context.Context, name string, s stream) (archives.Extractor, error) {
	format, _, err := archives.Identify(ctx, name, s)
	if _, seekErr := s.Seek(0, io.SeekStart); seekErr != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", name, seekErr)
	}
	if stderrors.Is(err, archives.NoMatch) {
		return nil, errors.Wrapf(errors.ErrNotAnArchive, "%s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to identify %s: %w", name, err)
	}

	switch f := format.(type) {
	case archives.CompressedArchive:
		if f.Extraction == nil {
			return nil, errors.Wrapf(errors.ErrNotAnArchive, "%s is compressed but not an archive", name)
		}
	case *archives.CompressedArchive:
		if f.Extraction == nil {
			return nil, errors.Wrapf(errors.ErrNotAnArchive, "%s is compressed but not an archive", name)
		}
	}

	ex, ok := format.(archives.Extractor)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotAnArchive, "%s", name)
	}
	return ex, nil
}

func listStream(ctx context.Context, name string, s stream) ([]Entry, error) {
	ex, err := identify(ctx, name, s)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = ex.Extract(ctx, s, func(_ context.Context, info archives.FileInfo) error {
		clean, ok := cleanName(info.NameInArchive)
		if !ok {
			return nil
		}
		entries = append(entries, Entry{Name: clean, Size: info.Size(), IsDir: info.IsDir()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", name, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func readEntry(ctx context.Context, name string, s stream, inner string) ([]byte, error) {
	ex, err := identify(ctx, name, s)
	if err != nil {
		return nil, err
	}

	var data []byte
	found := false
	err = ex.Extract(ctx, s, func(_ context.Context, info archives.FileInfo) error {
		clean, ok := cleanName(info.NameInArchive)
		if !ok || found || clean != inner || info.IsDir() {
			return nil
		}
		f, err := info.Open()
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		data, err = io.ReadAll(f)
		found = err == nil
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", inner, name, err)
	}
	if !found {
		return nil, errors.Wrapf(errors.ErrPathNotFound, "%s inside %s", inner, name)
	}
	return data, nil
}

// cleanName normalizes an archive entry name to a relative slash path.
func cleanName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimLeft(name, "/")
	name = path.Clean(name)
	if name == "." || name == "" || name == ".." || strings.HasPrefix(name, "../") {
		return "", false
	}
	return name, true
}

func withinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func writeSymlink(info archives.FileInfo, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("failed to create parent directory for symlink %s: %w", targetPath, err)
	}
	_ = os.Remove(targetPath)
	return os.Symlink(info.LinkTarget, targetPath)
}

func writeRegularFile(info archives.FileInfo, targetPath string) error {
	srcFile, err := info.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", info.NameInArchive, err)
	}
	defer func() { _ = srcFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", targetPath, err)
	}

	perm := info.Mode().Perm()
	if perm == 0 {
		perm = fsutil.FileModeDefault
	}
	dstFile, err := fsutil.CreateFilePerm(targetPath, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", targetPath, err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("failed to copy archive entry %s: %w", info.NameInArchive, err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", targetPath, err)
	}
	if !info.ModTime().IsZero() {
		_ = os.Chtimes(targetPath, info.ModTime(), info.ModTime())
	}
	return nil
}
