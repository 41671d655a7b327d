package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chainloader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
component:
  id: core
  platform: "1.20.1"
data_dir: data
remote:
  base_url: https://downloads.example.com/core
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "core", cfg.Component.BaseName)
	require.Equal(t, ".zip", cfg.Component.Extension)
	require.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.DataDir)
	require.Equal(t, DefaultDownloadAttempts, cfg.Download.Attempts)
	require.Equal(t, string(RetryBackoffLinear), cfg.Download.RetryBackoff)
	require.Equal(t, DefaultDisableAttempts, cfg.Restart.DisableAttempts)
	require.Equal(t, "core", cfg.Dependencies.MonolithicID)
	require.Equal(t, filepath.Join(cfg.DataDir, DefaultPinFile), cfg.PinPath())
	require.Equal(t, filepath.Join(cfg.DataDir, "journal.db"), cfg.Journal.Path)
	require.Equal(t, string(LogLevelInfo), cfg.Logging.Level)
	require.Empty(t, cfg.Update.AutoUpdate, "auto_update default depends on bundled signal")
}

func TestLoadExpandsEnvAndOverrides(t *testing.T) {
	t.Setenv("CORE_HOST", "mirror.example.com")
	t.Setenv(EnvAutoUpdate, "with-prompt")
	path := writeConfig(t, `
component: {id: core, platform: linux}
remote:
  base_url: https://${CORE_HOST}/core
update:
  auto_update: "true"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://mirror.example.com/core", cfg.Remote.BaseURL)
	require.Equal(t, string(AutoUpdatePrompt), cfg.Update.AutoUpdate)

	t.Setenv(EnvDownloadURL, "https://override.example.com/core")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://override.example.com/core", cfg.Remote.BaseURL)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", "component: {platform: linux}\nremote: {base_url: https://x.example}\n"},
		{"missing platform", "component: {id: core}\nremote: {base_url: https://x.example}\n"},
		{"bad url", "component: {id: core, platform: linux}\nremote: {base_url: ftp://x}\n"},
		{"bad answer", "component: {id: core, platform: linux}\nremote: {base_url: https://x.example}\nupdate: {fallback_prompt_answer: maybe}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			require.True(t, errors.HasCategory(err, errors.CategoryConfig))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "chainloader.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "example-component")
}
