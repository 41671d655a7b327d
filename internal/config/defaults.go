package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultBranch           = "stable"
	DefaultDownloadAttempts = 5
	DefaultConnectTimeout   = 30 * time.Second
	DefaultReadTimeout      = 30 * time.Second
	DefaultWatchInterval    = time.Hour
	DefaultDisableInterval  = 10 * time.Millisecond
	DefaultDisableAttempts  = 100
	DefaultPinFile          = "chainloader.properties"
	DefaultEventsSubject    = "chainloader.boot"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// ComponentDefaultApplier fills in naming and location defaults.
type ComponentDefaultApplier struct{}

func (ComponentDefaultApplier) Domain() string { return "component" }

func (ComponentDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Component.BaseName == "" {
		cfg.Component.BaseName = cfg.Component.ID
	}
	if cfg.Component.Extension == "" {
		cfg.Component.Extension = ".zip"
	} else if !strings.HasPrefix(cfg.Component.Extension, ".") {
		cfg.Component.Extension = "." + cfg.Component.Extension
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./chainloader-data"
	}
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	return nil
}

// UpdateDefaultApplier normalizes update policy fields. AutoUpdate is left empty
// when unset because its default depends on whether a bundled signal exists.
type UpdateDefaultApplier struct{}

func (UpdateDefaultApplier) Domain() string { return "update" }

func (UpdateDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Update.PinFile == "" {
		cfg.Update.PinFile = DefaultPinFile
	}
	if cfg.Update.AutoUpdate != "" {
		if mode, ok := ParseAutoUpdate(cfg.Update.AutoUpdate); ok {
			cfg.Update.AutoUpdate = string(mode)
		}
	}
	cfg.Update.FallbackPromptAnswer = strings.ToLower(strings.TrimSpace(cfg.Update.FallbackPromptAnswer))
	return nil
}

// DownloadDefaultApplier sets the attempt budget and backoff.
type DownloadDefaultApplier struct{}

func (DownloadDefaultApplier) Domain() string { return "download" }

func (DownloadDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Download.Attempts <= 0 {
		cfg.Download.Attempts = DefaultDownloadAttempts
	}
	if mode := NormalizeRetryBackoff(cfg.Download.RetryBackoff); mode != "" {
		cfg.Download.RetryBackoff = string(mode)
	} else {
		cfg.Download.RetryBackoff = string(RetryBackoffLinear)
	}
	if cfg.Download.RetryInitialDelay == "" {
		cfg.Download.RetryInitialDelay = "1s"
	}
	if cfg.Download.RetryMaxDelay == "" {
		cfg.Download.RetryMaxDelay = "10s"
	}
	return nil
}

// DependenciesDefaultApplier resolves directories relative to the data dir.
type DependenciesDefaultApplier struct{}

func (DependenciesDefaultApplier) Domain() string { return "dependencies" }

func (DependenciesDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Dependencies.InstallDir == "" {
		cfg.Dependencies.InstallDir = filepath.Join(cfg.DataDir, "dependencies")
	}
	if cfg.Dependencies.Dir != "" && !filepath.IsAbs(cfg.Dependencies.Dir) {
		cfg.Dependencies.Dir = filepath.Join(cfg.DataDir, cfg.Dependencies.Dir)
	}
	if cfg.Dependencies.ActiveManifest != "" && !filepath.IsAbs(cfg.Dependencies.ActiveManifest) {
		cfg.Dependencies.ActiveManifest = filepath.Join(cfg.DataDir, cfg.Dependencies.ActiveManifest)
	}
	if cfg.Dependencies.MonolithicID == "" {
		cfg.Dependencies.MonolithicID = cfg.Component.ID
	}
	if cfg.Restart.DisableAttempts <= 0 {
		cfg.Restart.DisableAttempts = DefaultDisableAttempts
	}
	return nil
}

// ObservabilityDefaultApplier handles logging, journal and event defaults.
type ObservabilityDefaultApplier struct{}

func (ObservabilityDefaultApplier) Domain() string { return "observability" }

func (ObservabilityDefaultApplier) ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = string(NormalizeLogLevel(cfg.Logging.Level))
	cfg.Logging.Format = string(NormalizeLogFormat(cfg.Logging.Format))
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(cfg.DataDir, "journal.db")
	}
	if cfg.Events.NATSURL != "" && cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
	}
	return nil
}

func defaultAppliers() []DefaultApplier {
	return []DefaultApplier{
		ComponentDefaultApplier{},
		UpdateDefaultApplier{},
		DownloadDefaultApplier{},
		DependenciesDefaultApplier{},
		ObservabilityDefaultApplier{},
	}
}

// ApplyDefaults runs every domain applier in order. Component runs first since
// other domains derive paths from DataDir.
func ApplyDefaults(cfg *Config) error {
	for _, a := range defaultAppliers() {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDirs creates the directories the loader writes into.
func EnsureDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.ArtifactDir(), cfg.Dependencies.InstallDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return nil
}
