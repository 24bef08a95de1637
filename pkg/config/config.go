// Package config provides configuration management for modkit. It loads,
// validates and saves the YAML settings file. A loaded *Config is passed to
// the components that need it; there is no package-level current config.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/fsutil"
)

// Built-in placeholder tokens.
const (
	ModDirectoryToken  = "<<modDirectory>>"
	GameDirectoryToken = "<<gameDirectory>>"
)

// Config represents the application configuration.
type Config struct {
	Paths    Paths    `yaml:"paths"`
	Settings Settings `yaml:"settings"`

	// ExtraPlaceholders are user-defined tokens added to the built-in ones.
	ExtraPlaceholders map[string]string `yaml:"placeholders,omitempty"`
}

// Paths holds the directories modkit works on.
type Paths struct {
	ModDirectory  string `yaml:"mod_directory"`
	GameDirectory string `yaml:"game_directory"`
	CacheDir      string `yaml:"cache_dir,omitempty"`
	RegistryDB    string `yaml:"registry_db,omitempty"`
}

// Settings represents general application settings.
type Settings struct {
	CaseInsensitive bool `yaml:"case_insensitive"`
	MultiThreadedIO bool `yaml:"multi_threaded_io"`
	MaxParallel     int  `yaml:"max_parallel"`

	// Network settings
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	UserAgent   string        `yaml:"user_agent,omitempty"`

	// Output settings
	OutputFormat string `yaml:"output_format"` // text, json
	LogLevel     string `yaml:"log_level"`     // error, warn, info, debug
}

// Default configuration values.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMaxParallel is the default bound on concurrent components and downloads.
	DefaultMaxParallel = 4

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2

	// FileName is the name of the configuration file.
	FileName = "config.yaml"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	cacheDir, err := fsutil.GetCacheDir()
	if err != nil {
		cacheDir = filepath.Join(os.TempDir(), fsutil.AppName)
	}
	registryDB, err := fsutil.GetRegistryPath()
	if err != nil {
		registryDB = filepath.Join(cacheDir, fsutil.RegistryFileName)
	}

	return &Config{
		Paths: Paths{
			CacheDir:   cacheDir,
			RegistryDB: registryDB,
		},
		Settings: Settings{
			CaseInsensitive: true,
			MaxParallel:     DefaultMaxParallel,
			HTTPTimeout:     DefaultHTTPTimeout,
			OutputFormat:    string(logger.FormatText),
			LogLevel:        "info",
		},
	}
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	dir, err := fsutil.GetConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user config directory")
	}
	return filepath.Join(dir, FileName), nil
}

// LoadConfig loads configuration from a file. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidConfigPath, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No config file, using defaults", logger.Fields{"path": absPath})
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	// Start from the defaults so that omitted booleans keep their default.
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigParse, err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigValidation, err)
	}
	return config, nil
}

// SaveConfig writes the configuration to path through a temporary file, so
// a failed write never leaves a truncated config behind.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfigPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigDirectory, err)
	}

	tempPath := absPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModeDefault)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigFileCreate, err)
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)
	if err := encoder.Encode(c); err != nil {
		_ = file.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %w", errors.ErrConfigEncode, err)
	}
	_ = encoder.Close()
	_ = file.Close()

	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %w", errors.ErrConfigFileRename, err)
	}
	return nil
}

// ToYAML converts the config to YAML bytes.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigEncode, err)
	}
	return data, nil
}

// Placeholders returns the substitution table for instruction paths: the
// built-in directory tokens plus any user-defined extras.
func (c *Config) Placeholders() map[string]string {
	table := make(map[string]string, len(c.ExtraPlaceholders)+2)
	for k, v := range c.ExtraPlaceholders {
		table[k] = v
	}
	table[ModDirectoryToken] = c.Paths.ModDirectory
	table[GameDirectoryToken] = c.Paths.GameDirectory
	return table
}

// Validate checks if the configuration is valid. Directory paths are not
// required here; commands that need them call RequireDirectories.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if err := validateSettings(c.Settings); err != nil {
		return err
	}
	for key := range c.ExtraPlaceholders {
		if !isPlaceholderKey(key) {
			return errors.Wrapf(errors.ErrInvalidPlaceholderKey, "%q", key)
		}
		if strings.EqualFold(key, ModDirectoryToken) || strings.EqualFold(key, GameDirectoryToken) {
			return errors.Wrapf(errors.ErrInvalidPlaceholderKey, "%s is built in", key)
		}
	}
	return nil
}

// RequireDirectories reports an error when the mod or game directory is unset.
func (c *Config) RequireDirectories() error {
	if strings.TrimSpace(c.Paths.ModDirectory) == "" {
		return errors.ErrModDirectoryEmpty
	}
	if strings.TrimSpace(c.Paths.GameDirectory) == "" {
		return errors.ErrGameDirectoryEmpty
	}
	return nil
}

func validateSettings(s Settings) error {
	if s.HTTPTimeout < 0 {
		return errors.ErrHTTPTimeoutNegative
	}
	if s.MaxParallel < 1 {
		return errors.ErrMaxParallelInvalid
	}
	switch logger.OutputFormat(s.OutputFormat) {
	case logger.FormatText, logger.FormatJSON:
	default:
		return errors.Wrapf(errors.ErrInvalidOutput, "'%s', must be one of: text, json", s.OutputFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(s.LogLevel)] {
		return errors.ErrInvalidLogLevelWithDetails(s.LogLevel)
	}
	return nil
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Settings.HTTPTimeout == 0 {
		c.Settings.HTTPTimeout = defaults.Settings.HTTPTimeout
	}
	if c.Settings.MaxParallel == 0 {
		c.Settings.MaxParallel = defaults.Settings.MaxParallel
	}
	if c.Settings.OutputFormat == "" {
		c.Settings.OutputFormat = defaults.Settings.OutputFormat
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaults.Settings.LogLevel
	}
	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = defaults.Paths.CacheDir
	}
	if c.Paths.RegistryDB == "" {
		c.Paths.RegistryDB = defaults.Paths.RegistryDB
	}
}

func isPlaceholderKey(key string) bool {
	if !strings.HasPrefix(key, "<<") || !strings.HasSuffix(key, ">>") || len(key) <= 4 {
		return false
	}
	name := key[2 : len(key)-2]
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}
