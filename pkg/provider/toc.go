package provider

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/glorpus-work/modkit/pkg/archive"
)

// TOCCache memoizes archive tables of contents. Concurrent loads of the
// same archive share a single read.
type TOCCache struct {
	am    *archive.Manager
	mu    sync.RWMutex
	tocs  map[string][]archive.Entry
	group singleflight.Group
}

// NewTOCCache creates an empty cache reading archives through am.
func NewTOCCache(am *archive.Manager) *TOCCache {
	if am == nil {
		am = archive.NewManager()
	}
	return &TOCCache{am: am, tocs: make(map[string][]archive.Entry)}
}

// Load returns the entries of the archive on disk at realPath, or of the
// archive nested inside it at chain.
func (c *TOCCache) Load(ctx context.Context, realPath string, chain []string) ([]archive.Entry, error) {
	key := tocKey(realPath, chain)

	c.mu.RLock()
	entries, ok := c.tocs[key]
	c.mu.RUnlock()
	if ok {
		return entries, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		entries, err := c.am.ListNested(ctx, realPath, chain)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tocs[key] = entries
		c.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]archive.Entry), nil
}

// Len returns the number of cached tables of contents.
func (c *TOCCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tocs)
}

// Manager returns the archive manager used for reads.
func (c *TOCCache) Manager() *archive.Manager {
	return c.am
}

func tocKey(realPath string, chain []string) string {
	if len(chain) == 0 {
		return realPath
	}
	return realPath + "\x00" + strings.Join(chain, "\x00")
}
