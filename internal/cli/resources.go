package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/cache"
	"github.com/glorpus-work/modkit/pkg/config"
	"github.com/glorpus-work/modkit/pkg/fsutil"
	"github.com/glorpus-work/modkit/pkg/model"
)

// stageResources downloads the resources of every selected component
// through the cache and copies them into the mod directory. Files already
// present in the mod directory are left alone.
func stageResources(ctx context.Context, cfg *config.Config, plan *model.Plan) error {
	var reqs []cache.Request
	for _, c := range plan.Selected() {
		for _, r := range c.Resources {
			reqs = append(reqs, cache.Request{URL: r.URL, SHA256: r.SHA256, FileName: r.FileName, Metadata: r.Metadata})
		}
	}
	if len(reqs) == 0 {
		return nil
	}

	cm, closeCache, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	entries, err := cm.FetchAll(ctx, reqs, cfg.Settings.MaxParallel)
	if err != nil {
		return fmt.Errorf("failed to fetch resources: %w", err)
	}

	for _, entry := range entries {
		dest := filepath.Join(cfg.Paths.ModDirectory, filepath.Base(entry.Path))
		if fsutil.Exists(dest) {
			logger.Debug("Resource already staged", logger.Fields{"path": dest})
			continue
		}
		if err := fsutil.Copy(entry.Path, dest); err != nil {
			return fmt.Errorf("failed to stage %s: %w", entry.ContentID, err)
		}
		logger.Info("Staged resource", logger.Fields{
			"file":  filepath.Base(dest),
			"size":  humanize.Bytes(uint64(entry.Metadata.Digest.Size)),
			"trust": entry.Metadata.Trust.String(),
		})
	}
	return nil
}
