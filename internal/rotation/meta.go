package rotation

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/chainloader/internal/digest"
	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// Meta records what was last installed, so a changed file on disk can be told
// apart from the version the loader believes is active.
type Meta struct {
	Version  string `yaml:"version"`
	Checksum string `yaml:"checksum"`
	Source   string `yaml:"source,omitempty"` // remote|bundled|diff
}

// MetaPath is the sidecar next to the rotating files.
func (s *Store) MetaPath() string {
	return filepath.Join(s.dir, s.base+".meta")
}

// ReadMeta returns nil without error when no sidecar exists.
func (s *Store) ReadMeta() (*Meta, error) {
	data, err := os.ReadFile(s.MetaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read artifact metadata").
			WithContext("path", s.MetaPath()).Build()
	}
	var m Meta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "malformed artifact metadata").
			WithContext("path", s.MetaPath()).Warning().Build()
	}
	return &m, nil
}

// WriteMeta replaces the sidecar atomically.
func (s *Store) WriteMeta(m Meta) error {
	data, err := yaml.Marshal(&m)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode artifact metadata").Build()
	}
	tmp, err := s.CreateTemp(".meta-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write artifact metadata").Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write artifact metadata").Build()
	}
	if err := os.Rename(tmpName, s.MetaPath()); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to replace artifact metadata").
			WithContext("path", s.MetaPath()).Build()
	}
	return nil
}

// Drift reports whether the file at path no longer matches the recorded
// checksum. Missing metadata or a missing checksum is not drift.
func Drift(path string, m *Meta) (bool, string, error) {
	if m == nil || m.Checksum == "" {
		return false, "", nil
	}
	actual, ok, err := digest.VerifyFile(path, m.Checksum)
	if err != nil {
		return false, "", errors.WrapError(err, errors.CategoryFileSystem, "failed to checksum active artifact").
			WithContext("path", path).Build()
	}
	return !ok, actual, nil
}
