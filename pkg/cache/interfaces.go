//go:generate mockgen -destination=./mocks/fetcher.go -package=mocks . Fetcher
package cache

import (
	"context"

	"github.com/glorpus-work/modkit/pkg/download"
	"github.com/glorpus-work/modkit/pkg/registry"
)

// Fetcher downloads one resource to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, req download.Request) (download.Result, error)
}

// Request names a resource to make available locally.
type Request struct {
	URL string
	// SHA256 is the declared hex digest, if known. It becomes the content
	// identity and the bytes must match it.
	SHA256 string
	// FileName overrides the name taken from the URL path.
	FileName string
	// Metadata is host specific data kept with the registry record.
	Metadata map[string]string
}

// Entry is a resource available in the cache.
type Entry struct {
	ContentID string
	Path      string
	Metadata  *registry.ResourceMetadata
	// Cached reports that the file was reused without a download.
	Cached bool
}

// CleanOptions specifies what to clean from the cache.
type CleanOptions struct {
	All     bool
	Blocked bool
	Partial bool
}

// CleanResult contains information about what was cleaned.
type CleanResult struct {
	TotalFreed   int64
	BlockedFreed int64
	PartialFreed int64
	FilesRemoved int
}

// Info represents cache information.
type Info struct {
	Directory    string
	TotalSize    int64
	Files        int
	Resources    int
	Blocked      int
	ByTrust      map[registry.TrustLevel]int
	PartialFiles int
	PartialSize  int64
}
