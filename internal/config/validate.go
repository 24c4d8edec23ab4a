package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Year < 2009 || c.Year > 2100 {
		return fmt.Errorf("year %d out of range (TLC trip records start in 2009)", c.Year)
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if c.Cleaning.MaxDistanceMiles <= 0 || c.Cleaning.MaxDistanceMiles > defaultMaxDistanceMiles {
		return fmt.Errorf("cleaning.max_distance_miles must be in (0, %d]", defaultMaxDistanceMiles)
	}
	if c.Cleaning.MaxDurationSeconds <= 0 || c.Cleaning.MaxDurationSeconds > defaultMaxDurationSeconds {
		return fmt.Errorf("cleaning.max_duration_seconds must be in (0, %d]", defaultMaxDurationSeconds)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateDownload() error {
	u, err := url.Parse(c.Download.BaseURL)
	if err != nil {
		return fmt.Errorf("download.base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ftp":
	default:
		return fmt.Errorf("download.base_url: unsupported scheme %q", u.Scheme)
	}
	if c.Download.TimeoutSeconds < 0 {
		return errors.New("download.timeout_seconds must not be negative")
	}
	if c.Download.MaxRetries < 0 {
		return errors.New("download.max_retries must not be negative")
	}
	if c.Download.Concurrency < 1 {
		return errors.New("download.concurrency must be at least 1")
	}
	return nil
}
