package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// DefaultConfigPath is used when no -c flag is given.
const DefaultConfigPath = "chainloader.yaml"

// Config is the loader configuration for one managed component installation.
type Config struct {
	Component    ComponentConfig    `yaml:"component"`
	DataDir      string             `yaml:"data_dir"`
	Remote       RemoteConfig       `yaml:"remote"`
	Update       UpdateConfig       `yaml:"update"`
	Download     DownloadConfig     `yaml:"download"`
	Dependencies DependenciesConfig `yaml:"dependencies"`
	Restart      RestartConfig      `yaml:"restart"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Journal      JournalConfig      `yaml:"journal"`
	Events       EventsConfig       `yaml:"events"`
	Watch        WatchConfig        `yaml:"watch"`
}

// ComponentConfig identifies the managed artifact and its on-disk name.
type ComponentConfig struct {
	ID        string `yaml:"id"`
	Platform  string `yaml:"platform"`
	BaseName  string `yaml:"base_name,omitempty"` // defaults to ID
	Extension string `yaml:"extension,omitempty"` // defaults to .zip
}

// RemoteConfig points at the metadata service.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
	ReadTimeout    string `yaml:"read_timeout,omitempty"`
}

// UpdateConfig controls how remote versions are adopted.
type UpdateConfig struct {
	AutoUpdate           string `yaml:"auto_update,omitempty"` // true|false|with-prompt
	Branch               string `yaml:"branch,omitempty"`
	FallbackPromptAnswer string `yaml:"fallback_prompt_answer,omitempty"` // accept|reject
	PinFile              string `yaml:"pin_file,omitempty"`
	BundledGlob          string `yaml:"bundled_glob,omitempty"`
	Interactive          bool   `yaml:"interactive,omitempty"`
}

// DownloadConfig sets the attempt budget for one artifact fetch.
type DownloadConfig struct {
	Attempts          int    `yaml:"attempts,omitempty"`
	RetryBackoff      string `yaml:"retry_backoff,omitempty"` // fixed|linear|exponential
	RetryInitialDelay string `yaml:"retry_initial_delay,omitempty"`
	RetryMaxDelay     string `yaml:"retry_max_delay,omitempty"`
}

// DependenciesConfig configures nested artifact scanning.
type DependenciesConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Dir            string `yaml:"dir,omitempty"`             // externally supplied artifacts
	InstallDir     string `yaml:"install_dir,omitempty"`     // loader-owned directory for the aggregate
	ActiveManifest string `yaml:"active_manifest,omitempty"` // versions already loaded by the host
	MonolithicID   string `yaml:"monolithic_id,omitempty"`
}

// RestartConfig bounds the deferred disable of superseded artifacts.
type RestartConfig struct {
	DisableInterval string `yaml:"disable_interval,omitempty"`
	DisableAttempts int    `yaml:"disable_attempts,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// MetricsConfig enables a node_exporter textfile written at the end of each boot
// and, for the watch command, an HTTP endpoint.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
	Listen   string `yaml:"listen,omitempty"` // serve /metrics while watching
}

type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

// EventsConfig enables publishing boot outcomes to NATS.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

type WatchConfig struct {
	Interval string `yaml:"interval,omitempty"`
}

// Load reads, expands, defaults and validates the configuration at configPath.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError(fmt.Sprintf("configuration file not found: %s", configPath)).
				WithContext("path", configPath).Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").Fatal().Build()
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}

	if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(filepath.Dir(configPath), cfg.DataDir)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init writes an example configuration to configPath.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ValidationError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	example := Config{
		Component: ComponentConfig{ID: "example-component", Platform: "linux-amd64"},
		DataDir:   "./chainloader-data",
		Remote:    RemoteConfig{BaseURL: "https://downloads.example.com/components/example-component"},
		Update: UpdateConfig{
			AutoUpdate: string(AutoUpdateFull),
			Branch:     DefaultBranch,
		},
		Download: DownloadConfig{Attempts: DefaultDownloadAttempts, RetryBackoff: string(RetryBackoffLinear)},
		Dependencies: DependenciesConfig{
			Enabled:      true,
			Dir:          "./mods",
			MonolithicID: "example-component",
		},
		Logging: LoggingConfig{Level: string(LogLevelInfo), Format: string(LogFormatText)},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal example config").Build()
	}
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.WrapError(err, errors.CategoryFileSystem, "failed to create config directory").Build()
		}
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").Build()
	}
	return nil
}

// parseDuration returns def for empty or unparsable input.
func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ConnectTimeoutDuration returns the configured dial timeout.
func (r RemoteConfig) ConnectTimeoutDuration() time.Duration {
	return parseDuration(r.ConnectTimeout, DefaultConnectTimeout)
}

// ReadTimeoutDuration returns the configured response header timeout.
func (r RemoteConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(r.ReadTimeout, DefaultReadTimeout)
}

func (w WatchConfig) IntervalDuration() time.Duration {
	return parseDuration(w.Interval, DefaultWatchInterval)
}

func (r RestartConfig) DisableIntervalDuration() time.Duration {
	return parseDuration(r.DisableInterval, DefaultDisableInterval)
}

// PinPath is the per-installation pin file.
func (c *Config) PinPath() string {
	if filepath.IsAbs(c.Update.PinFile) {
		return c.Update.PinFile
	}
	return filepath.Join(c.DataDir, c.Update.PinFile)
}

// ArtifactDir holds the rotating managed artifact and its sidecar.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.DataDir, c.Component.ID)
}
