package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modkit/pkg/errors"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name       string
		timeout    time.Duration
		userAgent  string
		expectedUA string
	}{
		{name: "default user agent", timeout: time.Second, expectedUA: DefaultUserAgent},
		{name: "custom user agent", timeout: 2 * time.Second, userAgent: "test-agent/1.0", expectedUA: "test-agent/1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.timeout, tt.userAgent)
			require.NotNil(t, m)
			assert.Equal(t, tt.timeout, m.client.Timeout)
			assert.Equal(t, tt.expectedUA, m.userAgent)
		})
	}
}

func TestFetch(t *testing.T) {
	body := []byte("mod archive bytes")
	sum := sha256.Sum256(body)
	goodSum := hex.EncodeToString(sum[:])

	tests := []struct {
		name     string
		status   int
		checksum string
		wantErr  error
	}{
		{name: "successful download", status: http.StatusOK},
		{name: "valid checksum", status: http.StatusOK, checksum: goodSum},
		{name: "invalid checksum", status: http.StatusOK, checksum: "deadbeef", wantErr: errors.ErrFileHashMismatch},
		{name: "not found", status: http.StatusNotFound, wantErr: errors.ErrDownloadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUA string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUA = r.Header.Get("User-Agent")
				w.WriteHeader(tt.status)
				_, _ = w.Write(body)
			}))
			defer server.Close()

			dir := t.TempDir()
			dest := filepath.Join(dir, "sub", "mod.zip")
			var progressed int64
			res, err := NewManager(5*time.Second, "").Fetch(context.Background(), Request{
				URL:        server.URL + "/mod.zip",
				Dest:       dest,
				Checksum:   tt.checksum,
				OnProgress: func(written, _ int64) { progressed = written },
			})
			assert.Equal(t, DefaultUserAgent, gotUA)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NoFileExists(t, dest)
				leftovers, _ := filepath.Glob(filepath.Join(dir, "sub", "dl-*.tmp"))
				assert.Empty(t, leftovers)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, dest, res.Path)
			assert.Equal(t, int64(len(body)), res.Size)
			assert.Equal(t, goodSum, res.SHA256)
			assert.Equal(t, int64(len(body)), progressed)

			data, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, body, data)
		})
	}
}

func TestFetch_ErrorHandling(t *testing.T) {
	m := NewManager(time.Second, "")

	_, err := m.Fetch(context.Background(), Request{URL: "http://example.com/x", Dest: "relative/x"})
	assert.ErrorIs(t, err, errors.ErrInvalidPath)

	_, err = m.Fetch(context.Background(), Request{URL: "://bad", Dest: filepath.Join(t.TempDir(), "x")})
	assert.ErrorIs(t, err, errors.ErrDownloadFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	_, err = m.Fetch(ctx, Request{URL: server.URL, Dest: filepath.Join(t.TempDir(), "x")})
	assert.ErrorIs(t, err, errors.ErrDownloadFailed)
}
