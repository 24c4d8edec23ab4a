package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Download configures retrieval of monthly trip files.
type Download struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
	Concurrency    int    `toml:"concurrency"`
}

// Cleaning holds the validity bounds applied to raw trips. They may tighten
// the defaults but never exceed them.
type Cleaning struct {
	MaxDistanceMiles   float64 `toml:"max_distance_miles"`
	MaxDurationSeconds int64   `toml:"max_duration_seconds"`
}

// Logging configures console and structured log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Metrics configures where pipeline metrics are flushed when a command exits.
type Metrics struct {
	Textfile       string `toml:"textfile"`
	PushgatewayURL string `toml:"pushgateway_url"`
	Job            string `toml:"job"`
}

// Narrative configures the optional LLM-written report summary.
type Narrative struct {
	Enabled bool   `toml:"enabled"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// Config is the full pipeline configuration. Table and file names are derived
// from Year and the fleet, never configured directly.
type Config struct {
	Year      int       `toml:"year"`
	DataDir   string    `toml:"data_dir"`
	Database  string    `toml:"database"`
	OutputDir string    `toml:"output_dir"`
	Ledger    string    `toml:"ledger"`
	Download  Download  `toml:"download"`
	Cleaning  Cleaning  `toml:"cleaning"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
	Narrative Narrative `toml:"narrative"`
}

// EmissionFactorsPath is the CSV mapping vehicle type to grams CO2 per mile.
func (c *Config) EmissionFactorsPath() string {
	return filepath.Join(c.DataDir, emissionFactorsFile)
}

// LockPath guards the store file against concurrent writers.
func (c *Config) LockPath() string {
	return c.Database + ".lock"
}

// Overrides are command-line values that take precedence over the file.
// Zero values leave the file's setting alone.
type Overrides struct {
	Year     int
	DataDir  string
	Database string
	LogLevel string
}

func (o Overrides) apply(c *Config) {
	if o.Year != 0 {
		c.Year = o.Year
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.Database != "" {
		c.Database = o.Database
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not an
// error; the second return value reports whether it existed.
func Load(path string) (*Config, bool, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides is Load with o applied before defaults are derived, so a
// data directory given on the command line also moves the default ledger.
func LoadWithOverrides(path string, o Overrides) (*Config, bool, error) {
	cfg := Default()

	exists := false
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, false, fmt.Errorf("read config: %w", err)
		default:
			exists = true
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, false, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	o.apply(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, exists, err
	}
	return &cfg, exists, nil
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Database) == "" {
		c.Database = defaultDatabase
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(c.Ledger) == "" {
		c.Ledger = filepath.Join(c.DataDir, defaultLedgerFile)
	}

	c.Download.BaseURL = strings.TrimRight(strings.TrimSpace(c.Download.BaseURL), "/")
	if c.Download.BaseURL == "" {
		c.Download.BaseURL = defaultBaseURL
	}
	if c.Download.TimeoutSeconds == 0 {
		c.Download.TimeoutSeconds = defaultDownloadTimeout
	}
	if c.Download.Concurrency == 0 {
		c.Download.Concurrency = defaultDownloadConcurrency
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if strings.TrimSpace(c.Metrics.Job) == "" {
		c.Metrics.Job = defaultMetricsJob
	}

	if c.Narrative.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.Narrative.APIKey = value
		}
	}
	if strings.TrimSpace(c.Narrative.Model) == "" {
		c.Narrative.Model = defaultNarrativeModel
	}
}
