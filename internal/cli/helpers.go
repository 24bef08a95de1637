package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/archive"
	"github.com/glorpus-work/modkit/pkg/cache"
	"github.com/glorpus-work/modkit/pkg/config"
	"github.com/glorpus-work/modkit/pkg/download"
	"github.com/glorpus-work/modkit/pkg/executor"
	"github.com/glorpus-work/modkit/pkg/fsutil"
	"github.com/glorpus-work/modkit/pkg/keylock"
	"github.com/glorpus-work/modkit/pkg/planner"
	"github.com/glorpus-work/modkit/pkg/provider"
	"github.com/glorpus-work/modkit/pkg/registry"
	"github.com/glorpus-work/modkit/pkg/resolve"
)

// These variables will be set by the main package
var (
	ConfigPath   *string
	Verbose      *bool
	OutputFormat *string
)

// loadConfig loads the configuration, applies the global flags and
// initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if OutputFormat != nil && *OutputFormat != "" {
		cfg.Settings.OutputFormat = *OutputFormat
	}
	if Verbose != nil && *Verbose {
		cfg.Settings.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.Settings.LogLevel, logger.OutputFormat(cfg.Settings.OutputFormat))
	return cfg, nil
}

func getConfigPath() string {
	if ConfigPath != nil && *ConfigPath != "" {
		return *ConfigPath
	}
	defaultPath, err := config.GetDefaultConfigPath()
	if err != nil {
		logger.Warn("Failed to get default config path, using empty path", logger.Fields{"error": err.Error()})
		return ""
	}
	return defaultPath
}

// engine bundles what validating and installing a plan needs.
type engine struct {
	exec      *executor.Executor
	validator *planner.Validator
	real      *provider.RealProvider
	opts      planner.Options
}

func newEngine(cfg *config.Config, hooks planner.Hooks) (*engine, error) {
	if err := cfg.RequireDirectories(); err != nil {
		return nil, err
	}
	modDir, err := filepath.Abs(cfg.Paths.ModDirectory)
	if err != nil {
		return nil, err
	}
	gameDir, err := filepath.Abs(cfg.Paths.GameDirectory)
	if err != nil {
		return nil, err
	}

	placeholders := cfg.Placeholders()
	placeholders[config.ModDirectoryToken] = modDir
	placeholders[config.GameDirectoryToken] = gameDir
	res, err := resolve.New(resolve.Options{
		Placeholders:    placeholders,
		CaseInsensitive: cfg.Settings.CaseInsensitive,
		BaseDir:         modDir,
	})
	if err != nil {
		return nil, err
	}

	am := archive.NewManager()
	seed, err := provider.NewVirtualProvider(provider.NewTOCCache(am), modDir, gameDir)
	if err != nil {
		return nil, err
	}

	opts := planner.Options{
		ModDirectory:  modDir,
		GameDirectory: gameDir,
		MultiThreaded: cfg.Settings.MultiThreadedIO,
		MaxParallel:   cfg.Settings.MaxParallel,
		Hooks:         hooks,
	}
	exec := executor.New(res)
	return &engine{
		exec:      exec,
		validator: planner.NewValidator(exec, seed, opts),
		real:      provider.NewRealProvider(provider.NewExecRunner(), am, modDir, gameDir),
		opts:      opts,
	}, nil
}

// openCache opens the registry and the download cache. The returned
// function closes the registry database.
func openCache(cfg *config.Config) (*cache.Manager, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.RegistryDB), fsutil.DirModePrivate); err != nil {
		return nil, nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	store, err := registry.OpenStore(cfg.Paths.RegistryDB)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close registry", logger.Fields{"error": err.Error()})
		}
	}
	reg, err := registry.New(store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	fetcher := download.NewManager(cfg.Settings.HTTPTimeout, cfg.Settings.UserAgent)
	cm, err := cache.NewManager(cfg.Paths.CacheDir, fetcher, reg, keylock.New())
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return cm, closeStore, nil
}

// printEvent renders progress events in a human-friendly way.
func printEvent(e planner.Event) {
	switch {
	case e.Component != "" && e.Index > 0:
		fmt.Printf("%s: %s #%d %s\n", e.Phase, e.Component, e.Index, e.Msg)
	case e.Component != "":
		fmt.Printf("%s: %s %s\n", e.Phase, e.Component, e.Msg)
	default:
		fmt.Printf("%s: %s\n", e.Phase, e.Msg)
	}
}

// contextOrBackground lets commands run outside ExecuteContext in tests.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
