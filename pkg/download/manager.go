// Package download fetches remote files over HTTP into a local path. Bodies
// are streamed into a temporary file next to the destination and only moved
// into place once complete and, when a checksum is given, verified.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/fsutil"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "modkit/1.0"

// Request describes one download.
type Request struct {
	URL string
	// Dest is the absolute path the file ends up at.
	Dest string
	// Checksum is an optional hex SHA-256 the body must match.
	Checksum string
	// OnProgress is called as bytes arrive; total is -1 when unknown.
	OnProgress func(written, total int64)
}

// Result describes a completed download.
type Result struct {
	Path   string
	Size   int64
	SHA256 string
}

// Manager downloads files over HTTP.
type Manager struct {
	client    *http.Client
	userAgent string
}

// NewManager creates a new download manager with the given timeout and user agent.
func NewManager(timeout time.Duration, userAgent string) *Manager {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Manager{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch downloads req.URL to req.Dest, replacing any existing file.
func (m *Manager) Fetch(ctx context.Context, req Request) (Result, error) {
	if req.Dest == "" || !filepath.IsAbs(req.Dest) {
		return Result{}, fmt.Errorf("download destination must be absolute: %s: %w", req.Dest, errors.ErrInvalidPath)
	}
	logger.Debug("Downloading", logger.Fields{"url": req.URL, "dest": req.Dest})

	resp, err := m.doRequest(ctx, req.URL)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	tmpPath, res, err := writeBodyToTemp(resp, req)
	if err != nil {
		return Result{}, err
	}
	if req.Checksum != "" && !strings.EqualFold(res.SHA256, strings.TrimSpace(req.Checksum)) {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("checksum mismatch for %s: %w", req.URL, errors.ErrFileHashMismatch)
	}
	if err := finalizeFile(tmpPath, req.Dest); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, err
	}
	res.Path = req.Dest
	return res, nil
}

func (m *Manager) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v: %w", err, errors.ErrDownloadFailed)
	}
	req.Header.Set("User-Agent", m.userAgent)
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errors.ErrDownloadFailed)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d: %w", resp.StatusCode, errors.ErrDownloadFailed)
	}
	return resp, nil
}

// progressWriter reports the running byte count.
type progressWriter struct {
	written int64
	total   int64
	report  func(written, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report != nil {
		p.report(p.written, p.total)
	}
	return len(b), nil
}

func writeBodyToTemp(resp *http.Response, req Request) (string, Result, error) {
	if err := os.MkdirAll(filepath.Dir(req.Dest), fsutil.DirModeSecure); err != nil {
		return "", Result{}, errors.Wrap(err, "could not create download dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(req.Dest), "dl-*.tmp")
	if err != nil {
		return "", Result{}, errors.Wrap(err, "could not create temp file")
	}
	tmpPath := tmp.Name()
	fail := func(err error, msg string) (string, Result, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", Result{}, errors.Wrap(err, msg)
	}

	hash := sha256.New()
	progress := &progressWriter{total: resp.ContentLength, report: req.OnProgress}
	n, err := io.Copy(io.MultiWriter(tmp, hash, progress), resp.Body)
	if err != nil {
		return fail(err, "could not write file")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "could not sync file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", Result{}, errors.Wrap(err, "could not close file")
	}
	return tmpPath, Result{Size: n, SHA256: hex.EncodeToString(hash.Sum(nil))}, nil
}

func finalizeFile(tmpPath, absPath string) error {
	if err := fsutil.Move(tmpPath, absPath); err != nil {
		return errors.Wrap(err, "could not finalize file")
	}
	if err := os.Chmod(absPath, fsutil.FileModeSecure); err != nil {
		return errors.Wrap(err, "could not set permissions")
	}
	return nil
}
