// Package cache makes remote resources available as verified local files.
// Each resource is stored under its content identity; concurrent requests
// for the same identity share one download.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/download"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/fsutil"
	"github.com/glorpus-work/modkit/pkg/integrity"
	"github.com/glorpus-work/modkit/pkg/keylock"
	"github.com/glorpus-work/modkit/pkg/registry"
)

const (
	resourcesDir    = "resources"
	defaultFileName = "download"
	// maxAttempts bounds downloads per Get when the bytes fail verification.
	maxAttempts = 2
)

// Manager is the download cache.
type Manager struct {
	directory string
	fetcher   Fetcher
	registry  *registry.Registry
	locks     *keylock.Table
}

// NewManager creates a cache rooted at directory. The lock table is shared
// with anything else that must not race with downloads of the same content.
func NewManager(directory string, fetcher Fetcher, reg *registry.Registry, locks *keylock.Table) (*Manager, error) {
	if directory == "" {
		return nil, errors.ErrCacheDirectory
	}
	if err := os.MkdirAll(filepath.Join(directory, resourcesDir), fsutil.DirModeSecure); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory")
	}
	return &Manager{
		directory: directory,
		fetcher:   fetcher,
		registry:  reg,
		locks:     locks,
	}, nil
}

// GetDirectory returns the cache directory path.
func (m *Manager) GetDirectory() string {
	return m.directory
}

// Registry returns the registry the cache records into.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Get returns a local file holding the bytes of req. Blocked resources
// fail before any network access. A cached file is reused when it still
// matches its recorded digest; otherwise the resource is downloaded, and
// downloaded again once if the bytes do not match what was expected.
func (m *Manager) Get(ctx context.Context, req Request) (*Entry, error) {
	contentID, err := registry.ContentID(req.URL, req.SHA256)
	if err != nil {
		return nil, err
	}
	if err := m.registry.CheckBlocked(contentID); err != nil {
		return nil, err
	}

	token, err := m.locks.Acquire(ctx, contentID)
	if err != nil {
		return nil, err
	}
	defer token.Release()

	// The block may have landed while we waited.
	if err := m.registry.CheckBlocked(contentID); err != nil {
		return nil, err
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = fileNameFromURL(req.URL)
	}
	fileName = sanitizeFileName(fileName)
	meta, err := m.registry.Declare(contentID, registry.Declaration{
		URL:      req.URL,
		FileName: fileName,
		Handler:  req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	dest := m.pathFor(contentID, meta.FileName)

	if entry, ok := m.reuse(contentID, dest, meta); ok {
		return entry, nil
	}

	expected := expectedDigest(req, meta)
	var digest integrity.Digest
	for attempt := 1; ; attempt++ {
		digest, err = m.download(ctx, req.URL, dest)
		if err != nil {
			return nil, err
		}
		if expected.SHA256 == "" {
			break
		}
		err = integrity.Compare(dest, expected, digest)
		if err == nil {
			break
		}
		_ = os.Remove(dest)
		if attempt >= maxAttempts {
			logger.Error("Resource failed verification", logger.Fields{"content_id": contentID, "error": err.Error()})
			return nil, err
		}
		logger.Warn("Resource failed verification, downloading again", logger.Fields{
			"content_id": contentID,
			"attempt":    attempt,
		})
	}

	if expected.SHA256 != "" && fileName != "" {
		if err := m.registry.MarkName(contentID, fileName, registry.NameCorrect); err != nil {
			return nil, err
		}
	}
	meta, err = m.registry.RecordDigest(contentID, digest)
	if err != nil {
		return nil, err
	}
	logger.Debug("Resource cached", logger.Fields{
		"content_id": contentID,
		"path":       dest,
		"trust":      meta.Trust.String(),
	})
	return &Entry{ContentID: contentID, Path: dest, Metadata: meta}, nil
}

// reuse returns the cached file when it still matches its recorded digest.
// A damaged file is removed so the caller downloads it again.
func (m *Manager) reuse(contentID, dest string, meta *registry.ResourceMetadata) (*Entry, bool) {
	if meta.Digest.SHA256 == "" || !fsutil.Exists(dest) {
		return nil, false
	}
	if err := integrity.Verify(dest, meta.Digest); err != nil {
		logger.Warn("Cached resource is damaged", logger.Fields{"content_id": contentID, "error": err.Error()})
		_ = os.Remove(dest)
		return nil, false
	}
	return &Entry{ContentID: contentID, Path: dest, Metadata: meta, Cached: true}, true
}

func (m *Manager) download(ctx context.Context, rawURL, dest string) (integrity.Digest, error) {
	if _, err := m.fetcher.Fetch(ctx, download.Request{URL: rawURL, Dest: dest}); err != nil {
		return integrity.Digest{}, err
	}
	return integrity.ComputeFile(dest)
}

// expectedDigest is what a download must match. A declared hash always
// binds; a recorded hash binds once it has been confirmed by more than one
// download, since URL-keyed content may legitimately change upstream.
func expectedDigest(req Request, meta *registry.ResourceMetadata) integrity.Digest {
	if req.SHA256 != "" {
		want := integrity.Digest{SHA256: strings.ToLower(strings.TrimSpace(req.SHA256))}
		if strings.EqualFold(meta.Digest.SHA256, want.SHA256) {
			return meta.Digest
		}
		return want
	}
	if meta.Trust >= registry.TrustVerified {
		return meta.Digest
	}
	return integrity.Digest{}
}

// Verify recomputes the digest of a cached resource. A mismatch drops the
// resource's trust and is returned as an integrity error.
func (m *Manager) Verify(ctx context.Context, contentID string) (*registry.ResourceMetadata, error) {
	token, err := m.locks.Acquire(ctx, contentID)
	if err != nil {
		return nil, err
	}
	defer token.Release()

	meta, ok := m.registry.Lookup(contentID)
	if !ok || meta.Digest.SHA256 == "" {
		return nil, errors.Wrapf(errors.ErrResourceNotFound, "%s", contentID)
	}
	dest := m.pathFor(contentID, meta.FileName)
	if !fsutil.Exists(dest) {
		return nil, errors.Wrapf(errors.ErrResourceNotFound, "%s is not cached", contentID)
	}

	if err := integrity.Verify(dest, meta.Digest); err != nil {
		var mismatch *integrity.MismatchError
		if stderrors.As(err, &mismatch) {
			if resetErr := m.registry.ResetTrust(contentID); resetErr != nil {
				return nil, resetErr
			}
		}
		return nil, err
	}
	return meta, nil
}

// Path returns where the resource with contentID is stored, if cached.
func (m *Manager) Path(contentID string) (string, bool) {
	meta, ok := m.registry.Lookup(contentID)
	if !ok {
		return "", false
	}
	dest := m.pathFor(contentID, meta.FileName)
	return dest, fsutil.Exists(dest)
}

func (m *Manager) pathFor(contentID, fileName string) string {
	if fileName == "" {
		fileName = defaultFileName
	}
	return filepath.Join(m.directory, resourcesDir, keyDir(contentID), fileName)
}

// keyDir maps a content id to a directory name that is safe on every
// platform, whatever characters the id holds.
func keyDir(contentID string) string {
	sum := sha256.Sum256([]byte(contentID))
	return hex.EncodeToString(sum[:16])
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultFileName
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		name = path.Base(u.Path)
	}
	return name
}

func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return defaultFileName
	}
	return name
}
