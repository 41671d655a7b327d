package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
	"git.home.luguber.info/inful/chainloader/internal/logfields"
)

// Arena owns the temporary files created while one boot inspects nested
// artifacts. Everything it hands out is removed by a single Cleanup call.
type Arena struct {
	baseDir string

	mu      sync.Mutex
	dir     string
	handles []string
	seq     int
}

// NewArena creates an arena under baseDir (os.TempDir when empty).
func NewArena(baseDir string) (*Arena, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create arena base directory").
			WithContext("path", baseDir).Build()
	}
	dir, err := os.MkdirTemp(baseDir, "chainloader-arena-")
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create arena").
			WithContext("path", baseDir).Build()
	}
	slog.Debug("Created extraction arena", logfields.Path(dir))
	return &Arena{baseDir: baseDir, dir: dir}, nil
}

// Dir returns the arena directory, or "" after Cleanup.
func (a *Arena) Dir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dir
}

// Create opens a new file in the arena. The name hint only shapes the
// file name; every call gets a distinct path.
func (a *Arena) Create(hint string) (*os.File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dir == "" {
		return nil, errors.InternalError("arena already cleaned up").Build()
	}
	a.seq++
	name := fmt.Sprintf("%04d-%s", a.seq, sanitize(hint))
	path := filepath.Join(a.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create arena file").
			WithContext("path", path).Build()
	}
	a.handles = append(a.handles, path)
	return f, nil
}

// Handles lists the files created so far.
func (a *Arena) Handles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.handles...)
}

// Cleanup removes every file the arena created. Calling it twice is fine.
func (a *Arena) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dir == "" {
		return nil
	}
	if err := os.RemoveAll(a.dir); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to clean up arena").
			WithContext("path", a.dir).Build()
	}
	slog.Debug("Cleaned up extraction arena", logfields.Path(a.dir), slog.Int("files", len(a.handles)))
	a.dir = ""
	a.handles = nil
	return nil
}

func sanitize(hint string) string {
	hint = filepath.Base(filepath.ToSlash(hint))
	hint = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, hint)
	if hint == "" || hint == "." || hint == ".." {
		return "file"
	}
	return hint
}
