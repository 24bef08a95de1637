package provider

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/archive"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/fsutil"
)

// RealProvider performs every operation on the OS file system. Mutations
// are restricted to the root directories it was created with.
type RealProvider struct {
	roots  sandbox
	runner ProcessRunner
	am     *archive.Manager
}

// NewRealProvider creates a RealProvider that may only modify paths below
// roots. A nil runner uses ExecRunner, a nil manager a fresh archive.Manager.
func NewRealProvider(runner ProcessRunner, am *archive.Manager, roots ...string) *RealProvider {
	if runner == nil {
		runner = NewExecRunner()
	}
	if am == nil {
		am = archive.NewManager()
	}
	return &RealProvider{roots: newSandbox(roots), runner: runner, am: am}
}

// Kind implements Provider.
func (p *RealProvider) Kind() Kind { return KindReal }

// Exists implements Provider.
func (p *RealProvider) Exists(path string) bool {
	return fsutil.Exists(path)
}

// IsDir implements Provider.
func (p *RealProvider) IsDir(path string) bool {
	return fsutil.IsDir(path)
}

// List implements Provider.
func (p *RealProvider) List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, osError(dir, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entries = append(entries, Entry{Name: de.Name(), IsDir: de.IsDir()})
	}
	return entries, nil
}

// ReadFile implements Provider.
func (p *RealProvider) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, osError(path, err)
	}
	return data, nil
}

// WriteFile implements Provider.
func (p *RealProvider) WriteFile(path string, data []byte, overwrite bool) error {
	path = clean(path)
	if err := p.roots.check(path); err != nil {
		return err
	}
	if p.Exists(path) {
		if !overwrite {
			return errors.Wrapf(errors.ErrDestinationExists, "%s", path)
		}
		if p.IsDir(path) {
			return errors.Wrapf(errors.ErrInvalidDestination, "%s is a directory", path)
		}
	}
	if err := fsutil.EnsureFileDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, fsutil.FileModeDefault)
}

// Extract implements Provider.
func (p *RealProvider) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	archivePath, destDir = clean(archivePath), clean(destDir)
	if err := p.roots.check(destDir); err != nil {
		return nil, err
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, osError(archivePath, err)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(errors.ErrNotAnArchive, "%s is a directory", archivePath)
	}

	logger.Debug("Extracting archive", logger.Fields{"archive": archivePath, "destination": destDir})
	return p.am.ExtractAll(ctx, archivePath, destDir)
}

// Move implements Provider.
func (p *RealProvider) Move(src, dst string, overwrite bool) error {
	src, dst = clean(src), clean(dst)
	if err := p.prepareTransfer(src, dst, overwrite); err != nil {
		if stderrors.Is(err, errSameFile) {
			return nil
		}
		return err
	}
	return fsutil.Move(src, dst)
}

// Copy implements Provider.
func (p *RealProvider) Copy(src, dst string, overwrite bool) error {
	src, dst = clean(src), clean(dst)
	if err := p.prepareTransfer(src, dst, overwrite); err != nil {
		if stderrors.Is(err, errSameFile) {
			return nil
		}
		return err
	}
	if p.IsDir(src) {
		return fsutil.CopyTree(src, dst)
	}
	return fsutil.Copy(src, dst)
}

// Rename implements Provider.
func (p *RealProvider) Rename(src, newName string, overwrite bool) error {
	if err := ValidateNewName(newName); err != nil {
		return err
	}
	src = clean(src)
	dst := filepath.Join(filepath.Dir(src), newName)

	// A case-only rename on a case-insensitive file system sees dst as
	// existing because it is the same file.
	if src != dst && strings.EqualFold(src, dst) {
		if a, err := os.Stat(src); err == nil {
			if b, err := os.Stat(dst); err == nil && os.SameFile(a, b) {
				return os.Rename(src, dst)
			}
		}
	}
	return p.Move(src, dst, overwrite)
}

// Delete implements Provider.
func (p *RealProvider) Delete(path string) error {
	path = clean(path)
	if err := p.roots.check(path); err != nil {
		return err
	}
	if _, err := os.Lstat(path); err != nil {
		return osError(path, err)
	}
	return os.RemoveAll(path)
}

// Run implements Provider.
func (p *RealProvider) Run(ctx context.Context, program string, args []string, workDir string) error {
	info, err := os.Stat(program)
	if err != nil {
		return osError(program, err)
	}
	if info.IsDir() {
		return errors.Wrapf(errors.ErrInvalidPath, "%s is a directory", program)
	}
	return runProcess(ctx, p.runner, program, args, workDir)
}

var errSameFile = stderrors.New("source and destination are the same")

func (p *RealProvider) prepareTransfer(src, dst string, overwrite bool) error {
	if err := p.roots.check(src, dst); err != nil {
		return err
	}
	if _, err := os.Lstat(src); err != nil {
		return osError(src, err)
	}
	if src == dst {
		return errSameFile
	}
	if isWithin(src, dst) {
		return errors.Wrapf(errors.ErrInvalidDestination, "%s is inside %s", dst, src)
	}
	if p.Exists(dst) {
		if !overwrite {
			return errors.Wrapf(errors.ErrDestinationExists, "%s", dst)
		}
		if err := os.RemoveAll(dst); err != nil {
			return errors.Wrapf(err, "failed to replace %s", dst)
		}
	}
	return nil
}

func osError(path string, err error) error {
	if stderrors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(errors.ErrPathNotFound, "%s", path)
	}
	if stderrors.Is(err, syscall.ENOTDIR) {
		return errors.Wrapf(errors.ErrInvalidPath, "%s is not a directory", path)
	}
	return err
}
