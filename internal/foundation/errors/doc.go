// Package errors provides the classified error primitives used across the loader.
//
// Categories mirror the recovery policy: network, metadata and checksum failures
// are absorbed by the resolution engine and degrade to "keep what is installed",
// filesystem failures are deferred to the next boot, and conflicts escalate to a
// restart request.
//
// Example usage:
//
//	err := errors.NetworkError("metadata request failed").
//		WithContext("url", endpoint).
//		WithCause(originalErr).
//		Build()
package errors
