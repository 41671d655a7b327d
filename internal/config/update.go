package config

import (
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/chainloader/internal/foundation/normalization"
)

// AutoUpdateMode selects how a newer remote version is adopted.
type AutoUpdateMode string

const (
	// AutoUpdateFull installs whatever the channel advertises without asking.
	AutoUpdateFull AutoUpdateMode = "true"
	// AutoUpdatePrompt records newer versions as pending and installs them once accepted.
	AutoUpdatePrompt AutoUpdateMode = "with-prompt"
	// AutoUpdateOff never consults the channel unless the local artifact is missing or damaged.
	AutoUpdateOff AutoUpdateMode = "false"
)

var autoUpdateNormalizer = normalization.NewNormalizer(map[string]AutoUpdateMode{
	"true":        AutoUpdateFull,
	"full":        AutoUpdateFull,
	"with-prompt": AutoUpdatePrompt,
	"prompt":      AutoUpdatePrompt,
	"manual":      AutoUpdatePrompt,
	"false":       AutoUpdateOff,
	"off":         AutoUpdateOff,
}, AutoUpdateOff)

// ParseAutoUpdate recognizes raw; unknown non-empty values mean off.
func ParseAutoUpdate(raw string) (AutoUpdateMode, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	if mode, ok := autoUpdateNormalizer.Lookup(raw); ok {
		return mode, true
	}
	return AutoUpdateOff, true
}

// ResolveAutoUpdate picks the first explicit mode from candidates. With none
// given, the default depends on whether a bundled version is shipped: bundled
// installations should not silently move away from what they ship.
func ResolveAutoUpdate(hasBundled bool, candidates ...string) AutoUpdateMode {
	for _, c := range candidates {
		if mode, ok := ParseAutoUpdate(c); ok {
			return mode
		}
	}
	if hasBundled {
		return AutoUpdatePrompt
	}
	return AutoUpdateFull
}

var answerNormalizer = normalization.NewNormalizer(map[string]string{
	"accept": "accept", "yes": "accept", "y": "accept", "true": "accept",
	"reject": "reject", "no": "reject", "n": "reject", "false": "reject",
}, "")

// FallbackAnswer returns the configured unattended prompt answer, or nil.
func (u UpdateConfig) FallbackAnswer() *bool {
	switch answerNormalizer.Normalize(u.FallbackPromptAnswer) {
	case "accept":
		v := true
		return &v
	case "reject":
		v := false
		return &v
	default:
		return nil
	}
}

// BranchMarkerFile is an optional per-installation channel marker in the data dir.
const BranchMarkerFile = "branch.txt"

// BranchSources carries every place a channel may come from, highest precedence first.
type BranchSources struct {
	Override  string // --branch flag
	Config    string // update.branch
	PinFile   string // branch key in the pin file
	MarkerDir string // directory holding branch.txt
}

// ResolveBranch applies the channel precedence: explicit override, then the
// environment and config file, then per-installation markers, then stable.
func ResolveBranch(src BranchSources) string {
	candidates := []string{
		src.Override,
		os.Getenv(EnvBranch),
		src.Config,
		src.PinFile,
		readMarker(src.MarkerDir),
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return DefaultBranch
}

func readMarker(dir string) string {
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, BranchMarkerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
