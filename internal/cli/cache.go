package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/cache"
	"github.com/glorpus-work/modkit/pkg/registry"
)

// NewCacheCmd creates the cache command with subcommands
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the download cache",
		Long:  "Fetch, verify, block and clean cached resources",
	}

	cmd.AddCommand(
		newCacheFetchCmd(),
		newCacheVerifyCmd(),
		newCacheBlockCmd(),
		newCacheUnblockCmd(),
		newCacheListCmd(),
		newCacheInfoCmd(),
		newCacheCleanCmd(),
		newCacheDirCmd(),
	)

	return cmd
}

func newCacheFetchCmd() *cobra.Command {
	var (
		sha256   string
		fileName string
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Download a resource into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cm, closeCache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			entry, err := cm.Get(contextOrBackground(cmd.Context()), cache.Request{
				URL:      args[0],
				SHA256:   sha256,
				FileName: fileName,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Content ID: %s\n", entry.ContentID)
			_, _ = fmt.Fprintf(out, "Path: %s\n", entry.Path)
			_, _ = fmt.Fprintf(out, "Size: %s\n", humanize.Bytes(uint64(entry.Metadata.Digest.Size)))
			_, _ = fmt.Fprintf(out, "SHA-256: %s\n", entry.Metadata.Digest.SHA256)
			_, _ = fmt.Fprintf(out, "Trust: %s\n", entry.Metadata.Trust)
			if entry.Cached {
				_, _ = fmt.Fprintln(out, "Reused cached file")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sha256, "sha256", "", "Expected SHA-256 of the file")
	cmd.Flags().StringVar(&fileName, "name", "", "File name to store the resource under")

	return cmd
}

func newCacheVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [CONTENT_ID...]",
		Short: "Re-hash cached resources",
		Long:  "Recompute the digests of cached resources; all of them when no id is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cm, closeCache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			ids := args
			if len(ids) == 0 {
				for _, meta := range cm.Registry().All() {
					if _, cached := cm.Path(meta.ContentID); cached {
						ids = append(ids, meta.ContentID)
					}
				}
			}
			failed := 0
			for _, id := range ids {
				if _, err := cm.Verify(contextOrBackground(cmd.Context()), id); err != nil {
					failed++
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", id, err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "OK   %s\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d resources failed verification", failed, len(ids))
			}
			return nil
		},
	}
}

func newCacheBlockCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "block CONTENT_ID|URL",
		Short: "Refuse a resource from now on",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cm, closeCache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			id, err := toContentID(args[0])
			if err != nil {
				return err
			}
			if err := cm.Registry().Block(id, reason); err != nil {
				return err
			}
			logger.Success("Resource blocked", logger.Fields{"content_id": id})
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the resource is blocked")

	return cmd
}

func newCacheUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock CONTENT_ID|URL",
		Short: "Lift a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cm, closeCache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			id, err := toContentID(args[0])
			if err != nil {
				return err
			}
			if err := cm.Registry().Unblock(id); err != nil {
				return err
			}
			logger.Success("Resource unblocked", logger.Fields{"content_id": id})
			return nil
		},
	}
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registry records and blocked resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cm, closeCache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			tabWriter := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, TabWidth, ' ', 0)
			_, _ = fmt.Fprintln(tabWriter, "CONTENT ID\tFILE\tSIZE\tTRUST\tCACHED")
			for _, meta := range cm.Registry().All() {
				_, cached := cm.Path(meta.ContentID)
				_, _ = fmt.Fprintf(tabWriter, "%s\t%s\t%s\t%s\t%t\n",
					meta.ContentID, meta.FileName, humanize.Bytes(uint64(meta.Digest.Size)), meta.Trust, cached)
			}
			_ = tabWriter.Flush()

			blocked := cm.Registry().Blocked()
			if len(blocked) == 0 {
				return nil
			}
			ids := make([]string, 0, len(blocked))
			for id := range blocked {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nBlocked (%d):\n", len(ids))
			for _, id := range ids {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", id, blocked[id])
			}
			return nil
		},
	}
}

func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show cache information",
		Long:  "Display information about the download cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cm, closeCache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			info, err := cm.GetInfo()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Cache Directory: %s\n", info.Directory)
			_, _ = fmt.Fprintf(out, "Total Size: %s (%d files)\n", humanize.Bytes(uint64(info.TotalSize)), info.Files)
			_, _ = fmt.Fprintf(out, "Partial Downloads: %s (%d files)\n", humanize.Bytes(uint64(info.PartialSize)), info.PartialFiles)
			_, _ = fmt.Fprintf(out, "Resources: %d (%s)\n", info.Resources, trustSummary(info.ByTrust))
			_, _ = fmt.Fprintf(out, "Blocked: %d\n", info.Blocked)
			return nil
		},
	}
}

func newCacheCleanCmd() *cobra.Command {
	var options cache.CleanOptions

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean the download cache",
		Long:  "Remove cached files to free up disk space. Registry records are kept.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cm, closeCache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			result, err := cm.Clean(contextOrBackground(cmd.Context()), options)
			if err != nil {
				return err
			}
			if result.PartialFreed > 0 {
				logger.Info("Cleaned partial downloads", logger.Fields{"size": humanize.Bytes(uint64(result.PartialFreed))})
			}
			if result.BlockedFreed > 0 {
				logger.Info("Cleaned blocked resources", logger.Fields{"size": humanize.Bytes(uint64(result.BlockedFreed))})
			}
			logger.Success("Cache cleaning completed", logger.Fields{
				"total_freed": humanize.Bytes(uint64(result.TotalFreed)),
				"files":       result.FilesRemoved,
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&options.All, "all", false, "Clean all cached files")
	cmd.Flags().BoolVar(&options.Blocked, "blocked", false, "Clean only blocked resources")
	cmd.Flags().BoolVar(&options.Partial, "partial", false, "Clean only interrupted downloads")

	return cmd
}

func newCacheDirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Show cache directory path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cfg.Paths.CacheDir)
			return nil
		},
	}
}

// toContentID accepts either a content id or a URL.
func toContentID(arg string) (string, error) {
	if strings.HasPrefix(arg, "sha256:") || strings.HasPrefix(arg, "url:") {
		return arg, nil
	}
	return registry.ContentID(arg, "")
}

func trustSummary(byTrust map[registry.TrustLevel]int) string {
	levels := []registry.TrustLevel{
		registry.TrustUnverified, registry.TrustObserved, registry.TrustVerified, registry.TrustConfirmed,
	}
	parts := make([]string, 0, len(levels))
	for _, level := range levels {
		parts = append(parts, fmt.Sprintf("%s %d", level, byTrust[level]))
	}
	return strings.Join(parts, ", ")
}
