package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateSegment(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateJobs() error {
	switch c.Jobs.Mode {
	case JobsModeInline, JobsModeQueued:
		return nil
	default:
		return fmt.Errorf("jobs.mode must be %q or %q, got %q", JobsModeInline, JobsModeQueued, c.Jobs.Mode)
	}
}

func (c *Config) validateProvider() error {
	switch c.Provider.Name {
	case ProviderGemini, ProviderPalette:
	default:
		return fmt.Errorf("provider.name: unsupported value %q", c.Provider.Name)
	}
	if c.Provider.TimeoutSeconds < 0 {
		return errors.New("provider.timeout_seconds must be >= 0")
	}
	if c.Provider.MaxRetries < 0 {
		return errors.New("provider.max_retries must be >= 0")
	}
	if c.Provider.BackoffBaseSeconds < 0 || c.Provider.BackoffMaxSeconds < 0 {
		return errors.New("provider backoff values must be >= 0")
	}
	if c.Provider.BackoffMaxSeconds > 0 && c.Provider.BackoffBaseSeconds > c.Provider.BackoffMaxSeconds {
		return errors.New("provider.backoff_base_seconds must not exceed provider.backoff_max_seconds")
	}
	if c.Provider.BreakerThreshold < 0 {
		return errors.New("provider.breaker_threshold must be >= 0")
	}
	if c.Provider.BreakerWindowSeconds < 0 || c.Provider.BreakerCooldownSeconds < 0 {
		return errors.New("provider breaker durations must be >= 0")
	}
	return nil
}

func (c *Config) validateSegment() error {
	for name, value := range map[string]int{
		"segment.tolerance":      c.Segment.Tolerance,
		"segment.fg_threshold":   c.Segment.FGThreshold,
		"segment.bg_threshold":   c.Segment.BGThreshold,
		"segment.fast_tolerance": c.Segment.FastTolerance,
	} {
		if value < 0 || value > 255 {
			return fmt.Errorf("%s must be between 0 and 255", name)
		}
	}
	if c.Segment.BGThreshold >= c.Segment.FGThreshold {
		return errors.New("segment.bg_threshold must be lower than segment.fg_threshold")
	}
	if c.Segment.ErodeSize < 0 || c.Segment.FastErodeSize < 0 {
		return errors.New("segment erode sizes must be >= 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case StorageSQLite:
		return nil
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/ivg/config.toml"
			}
			return fmt.Errorf("storage.dsn is required for the postgres driver. Set DATABASE_URL or edit %s", defaultPath)
		}
		return nil
	default:
		return fmt.Errorf("storage.driver: unsupported value %q", c.Storage.Driver)
	}
}
