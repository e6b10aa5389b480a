// Package config loads the core's runtime configuration from a YAML
// file with environment variable overrides for deployment-sensitive
// values.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/waveline-app/core/internal/errors"
)

// Config is the full runtime configuration.
type Config struct {
	// DataDir holds the SQLite database. Created on first open.
	DataDir string `yaml:"data_dir"`

	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Server ServerConfig `yaml:"server"`
	Cache  CacheConfig  `yaml:"cache"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// RemoteConfig describes the platform backend.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is the bearer token. Prefer WAVELINE_REMOTE_TOKEN over
	// putting secrets in the file.
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig tunes the sync engine and connectivity probing.
type SyncConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// ServerConfig describes the localhost ops surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// CacheConfig sets cache maintenance policy.
type CacheConfig struct {
	// PreservePendingOnClear keeps queued actions when the cache is
	// cleared, so a reset never loses unsynced work.
	PreservePendingOnClear bool `yaml:"preserve_pending_on_clear"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		Remote: RemoteConfig{
			BaseURL: "http://localhost:9000",
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			MaxRetries:    3,
			RetryDelay:    5 * time.Second,
			ProbeURL:      "http://localhost:9000/api/health",
			ProbeInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8090",
		},
		Cache: CacheConfig{
			PreservePendingOnClear: true,
		},
	}
}

// Load reads path and merges it over the defaults. A missing file is
// not an error; the defaults apply. Environment overrides are applied
// last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to read config file", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to parse config file", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WAVELINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("WAVELINE_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("WAVELINE_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("WAVELINE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("WAVELINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return apperrors.New(apperrors.ErrInvalid, "data_dir must not be empty")
	}
	if c.Remote.BaseURL == "" {
		return apperrors.New(apperrors.ErrInvalid, "remote.base_url must not be empty")
	}
	if c.Sync.MaxRetries < 1 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.RetryDelay <= 0 {
		c.Sync.RetryDelay = 5 * time.Second
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = 30 * time.Second
	}
	return nil
}
