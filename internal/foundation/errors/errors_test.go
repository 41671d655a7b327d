package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "chainloader.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		file, exists := err.Context().GetString("file")
		if !exists || file != "chainloader.yaml" {
			t.Errorf("expected context file=chainloader.yaml, got %v", file)
		}
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		inner := ChecksumError("digest mismatch").Build()
		wrapped := fmt.Errorf("attempt 3: %w", inner)

		if !IsClassified(wrapped) {
			t.Fatal("expected wrapped error to be classified")
		}
		if !HasCategory(wrapped, CategoryChecksum) {
			t.Error("expected checksum category through wrap")
		}
		if GetCategory(errors.New("plain")) != CategoryInternal {
			t.Error("expected plain errors to map to internal")
		}
	})

	t.Run("WithContext does not mutate original", func(t *testing.T) {
		base := NetworkError("timeout").Build()
		derived := base.WithContext("url", "https://example.invalid")

		if _, ok := base.Context().Get("url"); ok {
			t.Error("expected original context untouched")
		}
		if v, _ := derived.Context().GetString("url"); v != "https://example.invalid" {
			t.Errorf("expected derived url context, got %q", v)
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Fluent API", func(t *testing.T) {
		originalErr := errors.New("connection reset")
		err := WrapError(originalErr, CategoryNetwork, "download failed").
			Warning().
			Retryable().
			WithContext("attempt", 2).
			Build()

		if err.RetryStrategy() != RetryBackoff {
			t.Errorf("expected retry strategy %s, got %s", RetryBackoff, err.RetryStrategy())
		}
		if !errors.Is(err, originalErr) {
			t.Error("expected error to wrap original error")
		}
		if !err.CanRetry() {
			t.Error("expected backoff errors to be retryable")
		}
	})

	t.Run("Convenience constructors", func(t *testing.T) {
		tests := []struct {
			name     string
			builder  *ErrorBuilder
			category ErrorCategory
			severity ErrorSeverity
			retry    RetryStrategy
		}{
			{"ConfigError", ConfigError("x"), CategoryConfig, SeverityFatal, RetryNever},
			{"ValidationError", ValidationError("x"), CategoryValidation, SeverityFatal, RetryNever},
			{"NetworkError", NetworkError("x"), CategoryNetwork, SeverityError, RetryBackoff},
			{"MetadataError", MetadataError("x"), CategoryMetadata, SeverityWarning, RetryNever},
			{"ChecksumError", ChecksumError("x"), CategoryChecksum, SeverityError, RetryBackoff},
			{"FileSystemError", FileSystemError("x"), CategoryFileSystem, SeverityError, RetryNextBoot},
			{"ConflictError", ConflictError("x"), CategoryConflict, SeverityError, RetryNextBoot},
			{"JournalError", JournalError("x"), CategoryJournal, SeverityWarning, RetryNever},
			{"InternalError", InternalError("x"), CategoryInternal, SeverityFatal, RetryNever},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.builder.Build()
				if err.Category() != tt.category {
					t.Errorf("expected category %s, got %s", tt.category, err.Category())
				}
				if err.Severity() != tt.severity {
					t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
				}
				if err.RetryStrategy() != tt.retry {
					t.Errorf("expected retry strategy %s, got %s", tt.retry, err.RetryStrategy())
				}
			})
		}
	})
}

func TestErrorContextMerge(t *testing.T) {
	a := ErrorContext{}.Set("shared", "original").Set("a", 1)
	b := ErrorContext{}.Set("shared", "overridden")

	merged := a.Merge(b)
	if v, _ := merged.GetString("shared"); v != "overridden" {
		t.Errorf("expected shared=overridden, got %s", v)
	}
	if _, ok := merged.Get("a"); !ok {
		t.Error("expected key a to survive merge")
	}
}
