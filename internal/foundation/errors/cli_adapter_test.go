package errors

import (
	"log/slog"
	"strings"
	"testing"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: 0},
		{name: "validation", err: ValidationError("bad flag").Build(), expected: 2},
		{name: "conflict requests restart", err: ConflictError("dep outdated").Build(), expected: ExitRestartRequired},
		{name: "config", err: ConfigError("bad config").Build(), expected: 7},
		{name: "network", err: NetworkError("timeout").Build(), expected: 8},
		{name: "checksum", err: ChecksumError("mismatch").Build(), expected: 8},
		{name: "filesystem", err: FileSystemError("locked").Build(), expected: 11},
		{name: "unclassified", err: &customError{msg: "unknown error"}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.expected {
				t.Errorf("ExitCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, slog.Default())
	verbose := NewCLIErrorAdapter(true, slog.Default())

	if got := quiet.FormatError(nil); got != "" {
		t.Errorf("expected empty string for nil, got %q", got)
	}
	if got := quiet.FormatError(InternalError("boom").Build()); !strings.Contains(got, "use -v") {
		t.Errorf("expected hint for internal error, got %q", got)
	}
	if got := quiet.FormatError(ConfigError("missing base_url").Build()); !strings.Contains(got, "missing base_url") {
		t.Errorf("expected config message, got %q", got)
	}
	if got := verbose.FormatError(NetworkError("timeout").Build()); !strings.Contains(got, "[network:error]") {
		t.Errorf("expected full classified text in verbose mode, got %q", got)
	}
	if got := quiet.FormatError(&customError{msg: "unknown error"}); got != "Error: unknown error" {
		t.Errorf("unexpected format %q", got)
	}
}

type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}
