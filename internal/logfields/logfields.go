package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBootID     = "boot_id"
	KeyComponent  = "component"
	KeyVersion    = "version"
	KeyPrevious   = "previous_version"
	KeyChannel    = "channel"
	KeyMode       = "auto_update"
	KeyOutcome    = "outcome"
	KeyPath       = "path"
	KeyChecksum   = "checksum"
	KeyURL        = "url"
	KeyAttempt    = "attempt"
	KeyBytes      = "bytes"
	KeyDependency = "dependency"
	KeyState      = "state"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BootID(id string) slog.Attr        { return slog.String(KeyBootID, id) }
func Component(id string) slog.Attr     { return slog.String(KeyComponent, id) }
func Version(v string) slog.Attr        { return slog.String(KeyVersion, v) }
func Previous(v string) slog.Attr       { return slog.String(KeyPrevious, v) }
func Channel(c string) slog.Attr        { return slog.String(KeyChannel, c) }
func Mode(m string) slog.Attr           { return slog.String(KeyMode, m) }
func Outcome(o string) slog.Attr        { return slog.String(KeyOutcome, o) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Checksum(c string) slog.Attr       { return slog.String(KeyChecksum, c) }
func URL(u string) slog.Attr            { return slog.String(KeyURL, u) }
func Attempt(n int) slog.Attr           { return slog.Int(KeyAttempt, n) }
func Bytes(n int64) slog.Attr           { return slog.Int64(KeyBytes, n) }
func Dependency(id string) slog.Attr    { return slog.String(KeyDependency, id) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
