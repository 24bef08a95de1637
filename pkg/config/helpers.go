package config

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/glorpus-work/modkit/pkg/errors"
)

// Keys lists the keys accepted by SetValue and GetValue.
func Keys() []string {
	keys := make([]string, 0, len(accessors))
	for k := range accessors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type accessor struct {
	get func(c *Config) string
	set func(c *Config, value string) error
}

func stringField(field func(c *Config) *string) accessor {
	return accessor{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, value string) error {
			*field(c) = value
			return nil
		},
	}
}

func boolField(key string, field func(c *Config) *bool) accessor {
	return accessor{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, value string) error {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errors.Wrapf(errors.ErrInvalidConfigVal, "boolean value for %s: %s", key, value)
			}
			*field(c) = b
			return nil
		},
	}
}

var accessors = map[string]accessor{
	"mod_directory":  stringField(func(c *Config) *string { return &c.Paths.ModDirectory }),
	"game_directory": stringField(func(c *Config) *string { return &c.Paths.GameDirectory }),
	"cache_dir":      stringField(func(c *Config) *string { return &c.Paths.CacheDir }),
	"registry_db":    stringField(func(c *Config) *string { return &c.Paths.RegistryDB }),
	"user_agent":     stringField(func(c *Config) *string { return &c.Settings.UserAgent }),
	"output_format":  stringField(func(c *Config) *string { return &c.Settings.OutputFormat }),
	"log_level":      stringField(func(c *Config) *string { return &c.Settings.LogLevel }),
	"case_insensitive": boolField("case_insensitive",
		func(c *Config) *bool { return &c.Settings.CaseInsensitive }),
	"multi_threaded_io": boolField("multi_threaded_io",
		func(c *Config) *bool { return &c.Settings.MultiThreadedIO }),
	"max_parallel": {
		get: func(c *Config) string { return strconv.Itoa(c.Settings.MaxParallel) },
		set: func(c *Config, value string) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrapf(errors.ErrInvalidConfigVal, "integer value for max_parallel: %s", value)
			}
			c.Settings.MaxParallel = n
			return nil
		},
	},
	"http_timeout": {
		get: func(c *Config) string { return c.Settings.HTTPTimeout.String() },
		set: func(c *Config, value string) error {
			d, err := time.ParseDuration(value)
			if err != nil {
				return errors.Wrapf(errors.ErrInvalidConfigVal, "duration value for http_timeout: %s", value)
			}
			c.Settings.HTTPTimeout = d
			return nil
		},
	},
}

// SetValue sets a configuration value by key and validates the result.
// Keys of the form <<name>> set a user placeholder; an empty value
// removes it.
func (c *Config) SetValue(key, value string) error {
	if strings.HasPrefix(key, "<<") {
		if c.ExtraPlaceholders == nil {
			c.ExtraPlaceholders = make(map[string]string)
		}
		if value == "" {
			delete(c.ExtraPlaceholders, key)
		} else {
			c.ExtraPlaceholders[key] = value
		}
		return c.Validate()
	}
	a, ok := accessors[key]
	if !ok {
		return errors.Wrapf(errors.ErrUnknownConfigKey, "%s", key)
	}
	if err := a.set(c, value); err != nil {
		return err
	}
	return c.Validate()
}

// GetValue returns the value of a configuration key as a string.
func (c *Config) GetValue(key string) (string, error) {
	if strings.HasPrefix(key, "<<") {
		if v, ok := c.Placeholders()[key]; ok {
			return v, nil
		}
		return "", errors.Wrapf(errors.ErrUnknownPlaceholder, "%s", key)
	}
	a, ok := accessors[key]
	if !ok {
		return "", errors.Wrapf(errors.ErrUnknownConfigKey, "%s", key)
	}
	return a.get(c), nil
}

// ToMap flattens the configuration for display.
func (c *Config) ToMap() map[string]string {
	result := make(map[string]string, len(accessors)+len(c.ExtraPlaceholders))
	for key, a := range accessors {
		result[key] = a.get(c)
	}
	for key, value := range c.ExtraPlaceholders {
		result[key] = value
	}
	return result
}
