// Package config loads daemon settings from an optional YAML file and the
// environment. Environment variables win over the file; the file wins over
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen       string             `yaml:"listen"`
	Storage      StorageConfig      `yaml:"storage"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type StorageConfig struct {
	// Path of the SQLite database holding the queue and the cache.
	Path string `yaml:"path"`
}

type RemoteConfig struct {
	// MongoURI selects the MongoDB backend. Empty means in-memory.
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
}

type ConnectivityConfig struct {
	ProbeURL string        `yaml:"probe_url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	Interval        time.Duration `yaml:"interval"`
	KickDelay       time.Duration `yaml:"kick_delay"`
	MaxRetries      int           `yaml:"max_retries"`
	DisableAutoSync bool          `yaml:"disable_auto_sync"`
}

type TracingConfig struct {
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

func Default() Config {
	return Config{
		Listen:  ":8080",
		Storage: StorageConfig{Path: "healthsync.db"},
		Remote:  RemoteConfig{Database: "healthtrack"},
		Connectivity: ConnectivityConfig{
			ProbeURL: "https://clients3.google.com/generate_204",
			Interval: 30 * time.Second,
			Timeout:  3 * time.Second,
		},
		Sync: SyncConfig{
			Interval:   60 * time.Second,
			KickDelay:  time.Second,
			MaxRetries: 5,
		},
		Tracing: TracingConfig{ServiceName: "healthsync"},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path skips the file; a path that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("HEALTHSYNC_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("HEALTHSYNC_MONGO_URI"); v != "" {
		cfg.Remote.MongoURI = v
	}
	if v := os.Getenv("HEALTHSYNC_MONGO_DB"); v != "" {
		cfg.Remote.Database = v
	}
	if v := os.Getenv("HEALTHSYNC_PROBE_URL"); v != "" {
		cfg.Connectivity.ProbeURL = v
	}
	if v := os.Getenv("HEALTHSYNC_JAEGER_ENDPOINT"); v != "" {
		cfg.Tracing.JaegerEndpoint = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Listen = ":" + v
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Remote.MongoURI != "" && c.Remote.Database == "" {
		errs = append(errs, errors.New("remote.database is required with remote.mongo_uri"))
	}
	if c.Connectivity.Interval <= 0 || c.Connectivity.Timeout <= 0 {
		errs = append(errs, errors.New("connectivity interval and timeout must be positive"))
	}
	if c.Sync.Interval <= 0 || c.Sync.KickDelay <= 0 {
		errs = append(errs, errors.New("sync interval and kick_delay must be positive"))
	}
	if c.Sync.MaxRetries <= 0 {
		errs = append(errs, errors.New("sync.max_retries must be positive"))
	}
	return errors.Join(errs...)
}
