package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration. Values come from the YAML
// config file, overridden by environment variables. Per-request behavior
// (feed URLs, timeshift, template) lives in the specification instead.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" env:"CALMERGE_LISTEN"`

	// DefaultSpecification is the path of the JSON document holding the
	// default specification. Empty selects built-in defaults.
	DefaultSpecification string `yaml:"default_specification" env:"DEFAULT_SPECIFICATION_PATH"`

	// CacheTTLSeconds is how long fetched feed text stays valid.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"CACHE_REQUESTED_URLS_FOR_SECONDS"`

	// FetchTimeoutSeconds bounds a single feed HTTP request.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" env:"CALMERGE_FETCH_TIMEOUT_SECONDS"`

	// MaxFeeds is the maximum number of feed URLs one request may merge,
	// and the size of the worker pool processing them.
	MaxFeeds int `yaml:"max_feeds" env:"CALMERGE_MAX_FEEDS"`

	// PurgeCron is a cron expression scheduling expired cache entry
	// removal. Empty disables the janitor.
	PurgeCron string `yaml:"purge" env:"CALMERGE_PURGE_CRON"`

	// LogLevel is the minimum log level (DEBUG, INFO, WARN, ERROR).
	LogLevel string `yaml:"log_level" env:"CALMERGE_LOG_LEVEL"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               "127.0.0.1:5000",
		DefaultSpecification: "",
		CacheTTLSeconds:      600,
		FetchTimeoutSeconds:  15,
		MaxFeeds:             100,
		PurgeCron:            "*/10 * * * *",
		LogLevel:             "INFO",
	}
}

// Normalize fills in missing/zero values with defaults so partially filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:5000"
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 600
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 15
	}
	if c.MaxFeeds <= 0 {
		c.MaxFeeds = 100
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
}

// CacheTTL returns the feed cache lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// FetchTimeout returns the per-request fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Load loads configuration from the given YAML path, then applies
// environment variable overrides.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write
//     a default config with 0600 perms, and continue from the defaults.
//   - If the file exists: read YAML and unmarshal into Config.
//   - In both cases env vars win over file values, and the result is
//     normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		// First run: create a default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path, atomically
// via a temp file + rename, with final permissions 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmerge-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
