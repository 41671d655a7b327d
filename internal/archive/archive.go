// Package archive reads and writes the zip containers artifacts ship in.
//
// Entries compressed with zstd (zip method 93) are readable alongside the
// usual deflate and store methods.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// Archive is an open zip file.
type Archive struct {
	rc   *zip.ReadCloser
	path string
}

// Open opens the zip at path.
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "not a readable zip archive").
			WithContext("path", path).Warning().Build()
	}
	rc.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	return &Archive{rc: rc, path: path}, nil
}

func (a *Archive) Path() string { return a.path }

func (a *Archive) Close() error { return a.rc.Close() }

// Files lists regular file entries.
func (a *Archive) Files() []*zip.File {
	var out []*zip.File
	for _, f := range a.rc.File {
		if !f.FileInfo().IsDir() {
			out = append(out, f)
		}
	}
	return out
}

func (a *Archive) find(name string) (*zip.File, error) {
	for _, f := range a.rc.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%s in %s: %w", name, a.path, fs.ErrNotExist)
}

// Has reports whether the archive contains name.
func (a *Archive) Has(name string) bool {
	_, err := a.find(name)
	return err == nil
}

// ReadFile returns the content of one entry. Missing entries wrap fs.ErrNotExist.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	f, err := a.find(name)
	if err != nil {
		return nil, err
	}
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// ExtractTo copies entry name into w.
func (a *Archive) ExtractTo(name string, w io.Writer) error {
	f, err := a.find(name)
	if err != nil {
		return err
	}
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	_, err = io.Copy(w, r)
	return err
}

// Entry is one file to write into a new archive. Exactly one of Data,
// SourcePath or From is used, in that order.
type Entry struct {
	Name       string
	Data       []byte
	SourcePath string
	From       *zip.File
}

// Write creates path atomically from entries, sorted by name. When zstd is
// true, new entries use zstd instead of deflate; copied entries keep their
// original compression.
func Write(path string, entries []Entry, zstdEntries bool) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create archive directory").Build()
	}
	tmp, err := os.CreateTemp(dir, ".archive-*.tmp")
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create temp archive").Build()
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	method := zip.Deflate
	if zstdEntries {
		zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
		method = zstd.ZipMethodWinZip
	}

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, e := range sorted {
		if err := writeEntry(zw, e, method); err != nil {
			return errors.WrapError(err, errors.CategoryFileSystem, "failed to write archive entry").
				WithContext("entry", e.Name).Build()
		}
	}
	if err := zw.Close(); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to finish archive").Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to close archive").Build()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to move archive into place").
			WithContext("path", path).Build()
	}
	return nil
}

func writeEntry(zw *zip.Writer, e Entry, method uint16) error {
	if e.Data == nil && e.SourcePath == "" && e.From != nil {
		if e.Name == "" || e.Name == e.From.Name {
			return zw.Copy(e.From)
		}
		return copyRenamed(zw, e.From, e.Name)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method, Modified: time.Now()})
	if err != nil {
		return err
	}
	if e.Data != nil || e.SourcePath == "" {
		_, err = w.Write(e.Data)
		return err
	}
	src, err := os.Open(e.SourcePath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	_, err = io.Copy(w, src)
	return err
}

// copyRenamed copies the compressed bytes of f under a new name.
func copyRenamed(zw *zip.Writer, f *zip.File, name string) error {
	fh := f.FileHeader
	fh.Name = name
	w, err := zw.CreateRaw(&fh)
	if err != nil {
		return err
	}
	r, err := f.OpenRaw()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

// Diff entry prefixes. A diff is itself a zip whose entries are grouped by
// what they do to the base archive.
const (
	DiffRemove  = "-/"
	DiffReplace = "~/"
	DiffAdd     = "+/"
)

// Patch writes to dst the archive at base with the diff at diff applied.
// Removals run first, then replacements, then additions; an addition wins
// over a replacement of the same name. Directory entries left empty by a
// removal are dropped. Untouched and added entries keep their compressed
// bytes and headers, so patching the same inputs twice yields identical files.
func Patch(dst, base, diff string) error {
	b, err := Open(base)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	d, err := Open(diff)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	removed := map[string]bool{}
	updates := map[string]*zip.File{}
	for _, prefix := range []string{DiffRemove, DiffReplace, DiffAdd} {
		for _, f := range d.Files() {
			name, ok := strings.CutPrefix(f.Name, prefix)
			if !ok || name == "" {
				continue
			}
			if prefix == DiffRemove {
				removed[name] = true
			} else {
				updates[name] = f
			}
		}
	}

	emptied := map[string]bool{}
	var entries []Entry
	for _, f := range b.rc.File {
		if _, ok := updates[f.Name]; ok {
			continue
		}
		if removed[f.Name] {
			for i := strings.Index(f.Name, "/"); i >= 0 && i < len(f.Name)-1; i = nextSlash(f.Name, i) {
				emptied[f.Name[:i+1]] = true
			}
			continue
		}
		entries = append(entries, Entry{Name: f.Name, From: f})
	}
	for name, f := range updates {
		entries = append(entries, Entry{Name: name, From: f})
	}

	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if emptied[e.Name] && !hasChild(entries, e.Name) {
			continue
		}
		kept = append(kept, e)
	}
	return Write(dst, kept, false)
}

func nextSlash(name string, after int) int {
	i := strings.Index(name[after+1:], "/")
	if i < 0 {
		return -1
	}
	return after + 1 + i
}

func hasChild(entries []Entry, dir string) bool {
	for _, e := range entries {
		if e.Name != dir && strings.HasPrefix(e.Name, dir) {
			return true
		}
	}
	return false
}
