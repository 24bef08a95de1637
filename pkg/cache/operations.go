package cache

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/registry"
)

// partialPattern matches the temporary files a download leaves behind when
// it is interrupted.
const partialPattern = "dl-*.tmp"

// FetchAll gets every request with at most limit downloads in flight. The
// entries are returned in request order; the first failure cancels the rest.
func (m *Manager) FetchAll(ctx context.Context, reqs []Request, limit int) ([]*Entry, error) {
	entries := make([]*Entry, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			entry, err := m.Get(ctx, req)
			if err != nil {
				return errors.Wrapf(err, "%s", req.URL)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetInfo returns information about the cache.
func (m *Manager) GetInfo() (*Info, error) {
	info := &Info{
		Directory: m.directory,
		ByTrust:   make(map[registry.TrustLevel]int),
	}

	err := walkFiles(filepath.Join(m.directory, resourcesDir), func(path string, fi os.FileInfo) error {
		if isPartial(path) {
			info.PartialFiles++
			info.PartialSize += fi.Size()
			return nil
		}
		info.Files++
		info.TotalSize += fi.Size()
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get cache info")
	}

	for _, meta := range m.registry.All() {
		info.Resources++
		info.ByTrust[meta.Trust]++
	}
	info.Blocked = len(m.registry.Blocked())
	return info, nil
}

// Clean removes cached files according to the specified options. Registry
// records are kept; a cleaned resource is simply downloaded again.
func (m *Manager) Clean(ctx context.Context, options CleanOptions) (*CleanResult, error) {
	if !options.All && !options.Blocked && !options.Partial {
		options.All = true
	}
	result := &CleanResult{}

	if options.Partial || options.All {
		freed, files, err := m.cleanPartial()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to clean partial downloads")
		}
		result.PartialFreed = freed
		result.TotalFreed += freed
		result.FilesRemoved += files
	}

	var ids []string
	switch {
	case options.All:
		for _, meta := range m.registry.All() {
			ids = append(ids, meta.ContentID)
		}
	case options.Blocked:
		for id := range m.registry.Blocked() {
			ids = append(ids, id)
		}
	}

	blocked := m.registry.Blocked()
	for _, id := range ids {
		freed, files, err := m.cleanResource(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, ok := blocked[id]; ok {
			result.BlockedFreed += freed
		}
		result.TotalFreed += freed
		result.FilesRemoved += files
	}

	if options.All {
		// Directories no record points at any more.
		freed, files, err := m.cleanOrphans()
		if err != nil {
			return nil, err
		}
		result.TotalFreed += freed
		result.FilesRemoved += files
	}

	logger.Debug("Cache cleaned", logger.Fields{
		"freed": result.TotalFreed,
		"files": result.FilesRemoved,
	})
	return result, nil
}

func (m *Manager) cleanResource(ctx context.Context, contentID string) (int64, int, error) {
	token, err := m.locks.Acquire(ctx, contentID)
	if err != nil {
		return 0, 0, err
	}
	defer token.Release()
	return removeDir(filepath.Join(m.directory, resourcesDir, keyDir(contentID)))
}

// cleanPartial removes leftover temporary downloads. A resource whose key
// lock is held is still being fetched, so its directory is skipped.
func (m *Manager) cleanPartial() (int64, int, error) {
	root := filepath.Join(m.directory, resourcesDir)
	dirs, err := readKeyDirs(root)
	if err != nil {
		return 0, 0, err
	}
	// Read after listing: a download declares its record before it creates
	// its directory.
	ids := make(map[string]string)
	for _, meta := range m.registry.All() {
		ids[keyDir(meta.ContentID)] = meta.ContentID
	}

	var freed int64
	var files int
	for _, dir := range dirs {
		if id, ok := ids[dir]; ok {
			token, free := m.locks.TryAcquire(id)
			if !free {
				logger.Debug("Skipping resource being downloaded", logger.Fields{"content_id": id})
				continue
			}
			n, c, err := removePartial(filepath.Join(root, dir))
			token.Release()
			if err != nil {
				return freed, files, err
			}
			freed += n
			files += c
			continue
		}
		n, c, err := removePartial(filepath.Join(root, dir))
		if err != nil {
			return freed, files, err
		}
		freed += n
		files += c
	}
	return freed, files, nil
}

func removePartial(dir string) (int64, int, error) {
	var freed int64
	var files int
	err := walkFiles(dir, func(path string, fi os.FileInfo) error {
		if !isPartial(path) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		freed += fi.Size()
		files++
		return nil
	})
	return freed, files, err
}

// readKeyDirs lists the per-resource directories under root.
func readKeyDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", root)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

func (m *Manager) cleanOrphans() (int64, int, error) {
	root := filepath.Join(m.directory, resourcesDir)
	dirs, err := readKeyDirs(root)
	if err != nil {
		return 0, 0, err
	}
	known := make(map[string]bool)
	for _, meta := range m.registry.All() {
		known[keyDir(meta.ContentID)] = true
	}
	var freed int64
	var files int
	for _, d := range dirs {
		if known[d] {
			continue
		}
		n, c, err := removeDir(filepath.Join(root, d))
		if err != nil {
			return freed, files, err
		}
		freed += n
		files += c
	}
	return freed, files, nil
}

// removeDir removes a directory and returns bytes and files freed.
func removeDir(dir string) (int64, int, error) {
	size, count, err := getDirSizeAndFiles(dir)
	if err != nil {
		return 0, 0, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, 0, errors.Wrapf(err, "failed to remove directory %s", dir)
	}
	return size, count, nil
}

// getDirSizeAndFiles calculates directory size and file count.
func getDirSizeAndFiles(dir string) (size int64, count int, err error) {
	err = walkFiles(dir, func(_ string, fi os.FileInfo) error {
		size += fi.Size()
		count++
		return nil
	})
	return size, count, err
}

// walkFiles calls fn for every regular file under dir. A missing dir is
// treated as empty.
func walkFiles(dir string, fn func(path string, fi os.FileInfo) error) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		return fn(path, fi)
	})
	if err != nil {
		return errors.Wrapf(err, "error walking directory %s", dir)
	}
	return nil
}

func isPartial(path string) bool {
	ok, _ := filepath.Match(partialPattern, filepath.Base(path))
	return ok
}
