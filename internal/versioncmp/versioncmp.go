// Package versioncmp orders component version strings.
//
// Versions are loosely dotted: build metadata after '+' is ignored, '-' counts
// as a separator, missing parts read as "0". Numeric parts compare as numbers,
// other parts compare lexically, and a numeric part beats a non-numeric one so
// that 1.2.3.4 and 1.2.3 both sort above 1.2.3-rc.1.
package versioncmp

import (
	"strings"
)

// Compare returns -1, 0 or +1 as a is less than, equal to or greater than b.
func Compare(a, b string) int {
	ap, bp := parts(a), parts(b)
	n := max(len(ap), len(bp))
	for i := range n {
		x, y := "0", "0"
		if i < len(ap) {
			x = ap[i]
		}
		if i < len(bp) {
			y = bp[i]
		}
		if c := comparePart(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// Equal reports whether a and b denote the same version.
func Equal(a, b string) bool { return Compare(a, b) == 0 }

// Newer reports whether candidate sorts strictly above current.
func Newer(candidate, current string) bool { return Compare(candidate, current) > 0 }

// Max returns the greater of a and b, preferring a on ties.
func Max(a, b string) string {
	if Compare(b, a) > 0 {
		return b
	}
	return a
}

func parts(v string) []string {
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	p := strings.Split(strings.ReplaceAll(v, "-", "."), ".")
	// trailing empty parts carry no information ("1." == "1")
	for len(p) > 1 && p[len(p)-1] == "" {
		p = p[:len(p)-1]
	}
	return p
}

func comparePart(x, y string) int {
	xn, yn := isNumeric(x), isNumeric(y)
	switch {
	case xn && yn:
		return compareNumeric(x, y)
	case !xn && !yn:
		return strings.Compare(x, y)
	case xn:
		return 1
	default:
		return -1
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// compareNumeric orders digit strings of any length by value.
func compareNumeric(x, y string) int {
	x = strings.TrimLeft(x, "0")
	y = strings.TrimLeft(y, "0")
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}
