package pinstate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
)

// Store reads and writes one pin file.
type Store struct {
	path string
}

// NewStore returns a store for path. The file need not exist.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads the pin file. A missing file is an empty state. Lines that cannot
// be parsed are skipped with a warning instead of failing the whole file.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return New(), errors.WrapError(err, errors.CategoryFileSystem, "failed to read pin file").
			WithContext("path", s.path).Build()
	}

	st := New()
	for i, line := range strings.Split(string(data), "\n") {
		key, value, ok, skip := parseLine(line)
		if skip {
			continue
		}
		if !ok {
			slog.Warn("Ignoring malformed pin file line", logfields.Path(s.path), slog.Int("line", i+1))
			continue
		}
		st.Set(key, value)
	}
	return st, nil
}

// Save writes st atomically: a temp file in the same directory is renamed over
// the old file, so a crash leaves either the old or the new content.
func (s *Store) Save(st *State) error {
	content := encode(st.Map())

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create pin file directory").
			WithContext("path", dir).Build()
	}
	tmp, err := os.CreateTemp(dir, ".pin-*.tmp")
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create temp pin file").Build()
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write temp pin file").Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to close temp pin file").Build()
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, fmt.Sprintf("failed to replace pin file %s", s.path)).Build()
	}
	return nil
}

// SaveIfChanged writes next only when it differs from prev.
func (s *Store) SaveIfChanged(prev, next *State) (bool, error) {
	if prev != nil && prev.Equal(next) {
		return false, nil
	}
	return true, s.Save(next)
}

// parseLine splits a pin file line on the first '=' or ':'. Values are taken
// verbatim: no quoting, no variable expansion, no trailing comments. skip is
// set for blank and comment lines.
func parseLine(line string) (key, value string, ok, skip bool) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
		return "", "", false, true
	}
	idx := strings.IndexAny(trimmed, "=:")
	if idx <= 0 {
		return "", "", false, false
	}
	key = strings.TrimSpace(trimmed[:idx])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false, false
	}
	return key, strings.TrimLeft(trimmed[idx+1:], " \t"), true, false
}

// encode writes one unquoted key=value line per entry, sorted by key.
func encode(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
		b.WriteByte('\n')
	}
	return b.String()
}
