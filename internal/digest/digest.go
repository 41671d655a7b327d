// Package digest computes the hex checksums the metadata service publishes.
//
// The algorithm is inferred from the length of the expected checksum so that
// older md5 metadata and newer sha256 metadata verify through the same path.
package digest

import (
	"crypto/md5"  //nolint:gosec // legacy metadata publishes md5
	"crypto/sha1" //nolint:gosec // legacy metadata publishes sha1
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// ForChecksum picks the algorithm whose hex encoding has the same length as
// expected. Unknown lengths fall back to sha256 so the comparison fails cleanly.
func ForChecksum(expected string) Algorithm {
	switch len(strings.TrimSpace(expected)) {
	case md5.Size * 2:
		return MD5
	case sha1.Size * 2:
		return SHA1
	default:
		return SHA256
	}
}

// New returns a fresh hash for a.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New() //nolint:gosec // see import
	case SHA1:
		return sha1.New() //nolint:gosec // see import
	default:
		return sha256.New()
	}
}

// Sum hex-encodes the current state of h.
func Sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Reader digests everything read from r.
func Reader(r io.Reader, a Algorithm) (string, error) {
	h := a.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return Sum(h), nil
}

// File digests the file at path.
func File(path string, a Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	sum, err := Reader(f, a)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return sum, nil
}

// Matches compares two hex checksums case-insensitively.
func Matches(actual, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(expected))
}

// VerifyFile digests path with the algorithm implied by expected and compares.
func VerifyFile(path, expected string) (actual string, ok bool, err error) {
	actual, err = File(path, ForChecksum(expected))
	if err != nil {
		return "", false, err
	}
	return actual, Matches(actual, expected), nil
}
