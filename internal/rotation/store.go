// Package rotation stores the managed artifact under rotating numeric suffixes.
//
// A previous process may still hold the current file open, which on some
// platforms prevents deleting or overwriting it. Instead of replacing in place,
// each write goes to the next higher suffix and readers always pick the highest
// one: base.ext (suffix 0), base.1.ext, base.2.ext and so on. Older files are
// removed opportunistically whenever the current file is looked up.
package rotation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
)

// FS is the subset of file system operations the store needs.
type FS interface {
	ReadDir(dir string) ([]os.DirEntry, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	Rename(oldPath, newPath string) error
}

// OSFS is the real file system.
type OSFS struct{}

func (OSFS) ReadDir(dir string) ([]os.DirEntry, error) { return os.ReadDir(dir) }
func (OSFS) Stat(path string) (os.FileInfo, error)     { return os.Stat(path) }
func (OSFS) Remove(path string) error                  { return os.Remove(path) }
func (OSFS) Rename(oldPath, newPath string) error      { return os.Rename(oldPath, newPath) }

// Current is the file readers should use.
type Current struct {
	Path   string
	Suffix int
}

// Store manages one rotating artifact in dir.
type Store struct {
	dir  string
	base string
	ext  string
	fs   FS
}

// Option configures a Store.
type Option func(*Store)

// WithFS replaces the file system, mostly for tests.
func WithFS(fs FS) Option {
	return func(s *Store) { s.fs = fs }
}

// New returns a store for dir/base[.N]ext. ext includes the leading dot.
func New(dir, base, ext string, opts ...Option) *Store {
	s := &Store{dir: dir, base: base, ext: ext, fs: OSFS{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string { return s.dir }

// PathFor returns the file name for suffix n.
func (s *Store) PathFor(n int) string {
	if n == 0 {
		return filepath.Join(s.dir, s.base+s.ext)
	}
	return filepath.Join(s.dir, s.base+"."+strconv.Itoa(n)+s.ext)
}

// suffixOf parses a directory entry name, returning false when it does not
// belong to this store.
func (s *Store) suffixOf(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, s.base)
	if !ok {
		return 0, false
	}
	if rest == s.ext {
		return 0, true
	}
	rest, ok = strings.CutSuffix(rest, s.ext)
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutPrefix(rest, ".")
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Store) scan() ([]Current, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to list artifact directory").
			WithContext("path", s.dir).Build()
	}
	var found []Current
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := s.suffixOf(e.Name()); ok {
			found = append(found, Current{Path: filepath.Join(s.dir, e.Name()), Suffix: n})
		}
	}
	return found, nil
}

// FindCurrent returns the highest-suffixed file. When none exists it returns
// the suffix 0 path and false. All lower-suffixed files are removed on a
// best-effort basis.
func (s *Store) FindCurrent() (Current, bool, error) {
	found, err := s.scan()
	if err != nil {
		return Current{}, false, err
	}
	if len(found) == 0 {
		return Current{Path: s.PathFor(0)}, false, nil
	}

	best := found[0]
	for _, c := range found[1:] {
		if c.Suffix > best.Suffix {
			best = c
		}
	}
	for _, c := range found {
		if c.Suffix == best.Suffix {
			continue
		}
		if err := s.fs.Remove(c.Path); err != nil {
			slog.Debug("Could not remove stale artifact", logfields.Path(c.Path), logfields.Error(err))
		}
	}
	return best, true, nil
}

// NextWriteTarget is the suffix 0 path when no file exists, otherwise the
// path one above the current highest suffix.
func (s *Store) NextWriteTarget() (string, error) {
	cur, ok, err := s.FindCurrent()
	if err != nil {
		return "", err
	}
	if !ok {
		return cur.Path, nil
	}
	if _, err := s.fs.Stat(cur.Path); err != nil && os.IsNotExist(err) {
		return cur.Path, nil
	}
	return s.PathFor(cur.Suffix + 1), nil
}

// Commit moves tempPath into place as the new current artifact. The old file
// is removed first if possible so the suffix can fall back to 0; a locked old
// file just makes the new one land one suffix higher.
func (s *Store) Commit(tempPath string) (string, error) {
	if cur, ok, err := s.FindCurrent(); err != nil {
		return "", err
	} else if ok {
		if err := s.fs.Remove(cur.Path); err != nil {
			slog.Info("Current artifact is locked, writing next suffix", logfields.Path(cur.Path), logfields.Error(err))
		}
	}

	target, err := s.NextWriteTarget()
	if err != nil {
		return "", err
	}
	if err := s.fs.Rename(tempPath, target); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, fmt.Sprintf("failed to move artifact into place at %s", target)).
			WithContext("temp", tempPath).Build()
	}
	return target, nil
}

// CreateTemp opens a temp file in the store directory so Commit is a same-volume rename.
func (s *Store) CreateTemp(pattern string) (*os.File, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create artifact directory").
			WithContext("path", s.dir).Build()
	}
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create temp artifact").Build()
	}
	return f, nil
}
