// Package config loads photoflow configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		DBPath       string `yaml:"db_path"`
		FallbackPath string `yaml:"fallback_path"`
	} `yaml:"storage"`

	Queue struct {
		MaxSize           int      `yaml:"max_size"`
		DefaultMaxRetries int      `yaml:"default_max_retries"`
		BackoffUnit       Duration `yaml:"backoff_unit"`
	} `yaml:"queue"`

	Sync struct {
		Interval    Duration `yaml:"interval"`
		Cron        string   `yaml:"cron"`
		UpstreamURL string   `yaml:"upstream_url"`
		Timeout     Duration `yaml:"timeout"`
	} `yaml:"sync"`

	Network struct {
		ProbeURL      string   `yaml:"probe_url"`
		ProbeInterval Duration `yaml:"probe_interval"`
	} `yaml:"network"`

	Processors struct {
		WebhookURL string   `yaml:"webhook_url"`
		Types      []string `yaml:"types"`
	} `yaml:"processors"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Storage.DBPath = "photoflow.db"
	cfg.Storage.FallbackPath = "photoflow.queue.json"
	cfg.Queue.MaxSize = 1000
	cfg.Queue.DefaultMaxRetries = 3
	cfg.Queue.BackoffUnit = Duration(time.Second)
	cfg.Sync.Interval = Duration(30 * time.Second)
	cfg.Sync.Timeout = Duration(30 * time.Second)
	cfg.Network.ProbeInterval = Duration(30 * time.Second)
	cfg.LogLevel = "info"
	return cfg
}

// Load reads a YAML file over the defaults. Unset fields keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue.max_size must be positive")
	}
	if c.Queue.DefaultMaxRetries < 0 {
		return fmt.Errorf("queue.default_max_retries must not be negative")
	}
	if c.Sync.Interval.Std() <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	return nil
}
