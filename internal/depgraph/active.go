package depgraph

import (
	"os"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// ActiveComponent is a dependency the host already loaded before
// resolution ran. Path is set when the copy came from outside the loader
// (and may need disabling once superseded).
type ActiveComponent struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
	Path    string `yaml:"path,omitempty"`
}

// ActiveSet indexes already-loaded components by id.
type ActiveSet map[string]ActiveComponent

type activeManifest struct {
	Components []ActiveComponent `yaml:"components"`
}

// LoadActiveSet reads the manifest the host writes before handing over.
// A missing file is an empty set.
func LoadActiveSet(path string) (ActiveSet, error) {
	set := ActiveSet{}
	if path == "" {
		return set, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read active manifest").
			WithContext("path", path).Build()
	}
	var m activeManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "malformed active manifest").
			WithContext("path", path).Build()
	}
	for _, c := range m.Components {
		if c.ID == "" {
			continue
		}
		set[c.ID] = c
	}
	return set, nil
}
