package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognized on top of the YAML file.
const (
	EnvDownloadURL    = "CHAINLOADER_DOWNLOAD_URL"
	EnvBranch         = "CHAINLOADER_BRANCH"
	EnvAutoUpdate     = "CHAINLOADER_AUTO_UPDATE"
	EnvFallbackAnswer = "CHAINLOADER_FALLBACK_PROMPT_ANSWER"
)

var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads the first readable .env file. godotenv.Load never
// overrides variables already present in the process environment.
func loadEnvFiles() {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load env file", "file", name, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "file", name)
		return
	}
}

// applyEnvOverrides lets the environment win over the config file. The branch
// variable is not applied here: it takes part in ResolveBranch precedence.
func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvDownloadURL)); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAutoUpdate)); v != "" {
		cfg.Update.AutoUpdate = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFallbackAnswer)); v != "" {
		cfg.Update.FallbackPromptAnswer = v
	}
	return nil
}
