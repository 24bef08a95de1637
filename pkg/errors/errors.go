// Package errors defines the sentinel errors shared across modkit and small
// helpers for wrapping them with context. Callers classify failures with the
// standard errors.Is and errors.As functions.
package errors

import "fmt"

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")
	ErrConfigEncode      = fmt.Errorf("failed to encode config")
	ErrConfigDirectory   = fmt.Errorf("failed to create config directory")
	ErrConfigFileCreate  = fmt.Errorf("failed to create config file")
	ErrConfigFileRename  = fmt.Errorf("failed to rename temporary config file")
	ErrConfigFileExists  = fmt.Errorf("configuration file already exists (use --force to overwrite)")
	ErrInvalidLogLevel   = fmt.Errorf("invalid log level")
	ErrInvalidOutput     = fmt.Errorf("invalid output format")
	ErrUnknownConfigKey  = fmt.Errorf("unknown configuration key")
	ErrInvalidConfigVal  = fmt.Errorf("invalid configuration value")

	// File system errors.
	ErrPathNotFound       = fmt.Errorf("path not found")
	ErrNoMatches          = fmt.Errorf("pattern matched no files")
	ErrDestinationExists  = fmt.Errorf("destination already exists")
	ErrNotAnArchive       = fmt.Errorf("not a recognized archive")
	ErrInvalidDestination = fmt.Errorf("invalid destination")
	ErrInvalidPath        = fmt.Errorf("invalid path")
	ErrEmptyPaths         = fmt.Errorf("source and destination paths cannot be empty")

	// Instruction errors.
	ErrUnsupportedAction  = fmt.Errorf("unsupported action type")
	ErrInvalidInstruction = fmt.Errorf("invalid instruction")
	ErrUnknownOption      = fmt.Errorf("unknown option")
	ErrUnknownPlaceholder = fmt.Errorf("unknown placeholder")
	ErrProcessFailed      = fmt.Errorf("external process failed")

	// Plan errors.
	ErrDependency       = fmt.Errorf("dependency not satisfied")
	ErrValidationFailed = fmt.Errorf("installation plan is invalid")
	ErrInstallFailed    = fmt.Errorf("components failed to install")
	ErrPlanParse        = fmt.Errorf("failed to parse plan")

	// Hook errors.
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")
	ErrHookCompile   = fmt.Errorf("hook script does not compile")

	// Cache and registry errors.
	ErrCacheDirectory        = fmt.Errorf("cache directory cannot be empty")
	ErrResourceBlocked       = fmt.Errorf("resource is blocked")
	ErrResourceNotFound      = fmt.Errorf("resource not found")
	ErrIntegrity             = fmt.Errorf("integrity check failed")
	ErrFileHashMismatch      = fmt.Errorf("file hash mismatch")
	ErrDownloadFailed        = fmt.Errorf("download failed")
	ErrUnsupportedSchema     = fmt.Errorf("unsupported schema version")
	ErrRegistryStore         = fmt.Errorf("registry store error")
	ErrLockAcquire           = fmt.Errorf("failed to acquire content lock")
	ErrHTTPTimeoutNegative   = fmt.Errorf("http_timeout cannot be negative")
	ErrMaxParallelInvalid    = fmt.Errorf("max_parallel must be at least 1")
	ErrModDirectoryEmpty     = fmt.Errorf("mod_directory cannot be empty")
	ErrGameDirectoryEmpty    = fmt.Errorf("game_directory cannot be empty")
	ErrInvalidPlaceholderKey = fmt.Errorf("placeholder keys must look like <<name>>")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ErrInvalidLogLevelWithDetails is a helper to create a wrapped error with the invalid level and valid options.
func ErrInvalidLogLevelWithDetails(level string) error {
	return fmt.Errorf("%w: '%s', must be one of: error, warn, info, debug", ErrInvalidLogLevel, level)
}
