package resolution

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
	"git.home.luguber.info/inful/chainloader/internal/versioncmp"
)

// BundledSource finds a bundled version signal. A nil result means none.
type BundledSource interface {
	Find(ctx context.Context) (*Bundled, error)
}

// NoBundled never finds anything.
type NoBundled struct{}

func (NoBundled) Find(context.Context) (*Bundled, error) { return nil, nil }

// StaticBundled always returns the same signal.
type StaticBundled struct{ B *Bundled }

func (s StaticBundled) Find(context.Context) (*Bundled, error) { return s.B, nil }

// bundledDescriptor is the file a dependent artifact ships to pin the
// component version it was built against.
type bundledDescriptor struct {
	Version  string `yaml:"version"`
	Checksum string `yaml:"checksum"`
	Path     string `yaml:"path"`
}

// FileBundled reads bundled descriptors matching a glob. When several
// dependents ship one, the highest version wins.
type FileBundled struct {
	Glob string
}

func (f FileBundled) Find(ctx context.Context) (*Bundled, error) {
	if f.Glob == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(f.Glob)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid bundled descriptor pattern").
			WithContext("glob", f.Glob).Build()
	}

	var best *Bundled
	for _, file := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := readBundled(file)
		if err != nil {
			slog.Warn("Ignoring unreadable bundled descriptor", logfields.Path(file), logfields.Error(err))
			continue
		}
		if best == nil || versioncmp.Compare(b.Version, best.Version) > 0 {
			best = b
		}
	}
	return best, nil
}

func readBundled(file string) (*Bundled, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var d bundledDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d.Version == "" || d.Path == "" {
		return nil, errors.ValidationError("bundled descriptor needs version and path").
			WithContext("path", file).Build()
	}
	path := d.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(file), path)
	}
	return &Bundled{Version: d.Version, Checksum: d.Checksum, Path: path, Source: file}, nil
}
