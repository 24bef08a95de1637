package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/fsutil"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Settings.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Settings.HTTPTimeout)
	assert.Equal(t, 4, cfg.Settings.MaxParallel)
	assert.True(t, cfg.Settings.CaseInsensitive)
	assert.False(t, cfg.Settings.MultiThreadedIO)
	assert.Equal(t, fsutil.RegistryFileName, filepath.Base(cfg.Paths.RegistryDB))
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `paths:
  mod_directory: /mods
  game_directory: /games/kotor
settings:
  log_level: debug
  multi_threaded_io: true
  http_timeout: 5s
placeholders:
  "<<patchDirectory>>": /mods/patches`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), fsutil.FileModeDefault))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/mods", cfg.Paths.ModDirectory)
	assert.Equal(t, "/games/kotor", cfg.Paths.GameDirectory)
	assert.Equal(t, "debug", cfg.Settings.LogLevel)
	assert.True(t, cfg.Settings.MultiThreadedIO)
	assert.True(t, cfg.Settings.CaseInsensitive, "omitted booleans keep their default")
	assert.Equal(t, 5*time.Second, cfg.Settings.HTTPTimeout)
	assert.Equal(t, DefaultMaxParallel, cfg.Settings.MaxParallel)
	assert.NotEmpty(t, cfg.Paths.CacheDir)

	assert.Equal(t, map[string]string{
		"<<modDirectory>>":   "/mods",
		"<<gameDirectory>>":  "/games/kotor",
		"<<patchDirectory>>": "/mods/patches",
	}, cfg.Placeholders())
	require.NoError(t, cfg.RequireDirectories())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig("")
	assert.ErrorIs(t, err, errors.ErrEmptyConfigPath)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Settings, cfg.Settings)

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "malformed yaml", content: "settings: [", wantErr: errors.ErrConfigParse},
		{name: "wrong type", content: "settings:\n  max_parallel: many", wantErr: errors.ErrConfigParse},
		{name: "negative timeout", content: "settings:\n  http_timeout: -1s", wantErr: errors.ErrHTTPTimeoutNegative},
		{name: "bad parallelism", content: "settings:\n  max_parallel: -2", wantErr: errors.ErrMaxParallelInvalid},
		{name: "bad log level", content: "settings:\n  log_level: loud", wantErr: errors.ErrInvalidLogLevel},
		{name: "bad output format", content: "settings:\n  output_format: xml", wantErr: errors.ErrInvalidOutput},
		{name: "bad placeholder", content: "placeholders:\n  patches: /x", wantErr: errors.ErrInvalidPlaceholderKey},
		{name: "shadowed placeholder", content: "placeholders:\n  \"<<modDirectory>>\": /x", wantErr: errors.ErrInvalidPlaceholderKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr != errors.ErrConfigParse {
				assert.ErrorIs(t, err, errors.ErrConfigValidation)
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.ModDirectory = "/mods"
	cfg.Settings.LogLevel = "debug"
	cfg.ExtraPlaceholders = map[string]string{"<<override>>": "/games/kotor/Override"}

	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.SaveConfig(configPath))
	assert.NoFileExists(t, configPath+".tmp")

	loaded, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.ErrorIs(t, cfg.SaveConfig(""), errors.ErrEmptyConfigPath)
}

func TestRequireDirectories(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.RequireDirectories(), errors.ErrModDirectoryEmpty)
	cfg.Paths.ModDirectory = "/mods"
	assert.ErrorIs(t, cfg.RequireDirectories(), errors.ErrGameDirectoryEmpty)
	cfg.Paths.GameDirectory = "/game"
	assert.NoError(t, cfg.RequireDirectories())
}

func TestSetValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    string
		wantErr error
	}{
		{key: "mod_directory", value: "/mods", want: "/mods"},
		{key: "case_insensitive", value: "false", want: "false"},
		{key: "case_insensitive", value: "maybe", wantErr: errors.ErrInvalidConfigVal},
		{key: "max_parallel", value: "8", want: "8"},
		{key: "max_parallel", value: "0", wantErr: errors.ErrMaxParallelInvalid},
		{key: "http_timeout", value: "1m0s", want: "1m0s"},
		{key: "http_timeout", value: "soon", wantErr: errors.ErrInvalidConfigVal},
		{key: "log_level", value: "warn", want: "warn"},
		{key: "<<tools>>", value: "/opt/tools", want: "/opt/tools"},
		{key: "<<bad key>>", value: "/x", wantErr: errors.ErrInvalidPlaceholderKey},
		{key: "color_output", value: "true", wantErr: errors.ErrUnknownConfigKey},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.SetValue(tt.key, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			got, err := cfg.GetValue(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, cfg.ToMap()[tt.key])
		})
	}

	_, err := DefaultConfig().GetValue("nope")
	assert.ErrorIs(t, err, errors.ErrUnknownConfigKey)
	assert.Contains(t, Keys(), "multi_threaded_io")
}
