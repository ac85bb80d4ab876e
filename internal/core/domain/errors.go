// Package domain holds the entities and error taxonomy shared by every core
// component: sources, chunks, summaries, and the kind-tagged failures that
// propagate out of chunkers, the gateway and the repository.
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain failure so callers can decide how to react
// without string-matching messages.
type ErrorKind string

const (
	// KindConfiguration marks missing or malformed configuration, invalid
	// values, or an unknown model string.
	KindConfiguration ErrorKind = "configuration_error"

	// KindCredential marks an absent or provider-rejected credential.
	KindCredential ErrorKind = "credential_error"

	// KindPathTraversal marks a file path that escapes its allowed root.
	KindPathTraversal ErrorKind = "path_traversal"

	// KindSSRF marks a URL that resolves to disallowed address space.
	KindSSRF ErrorKind = "ssrf"

	// KindUnsupportedSourceType marks a source with no registered chunker.
	KindUnsupportedSourceType ErrorKind = "unsupported_source_type"

	// KindSchemaMismatch marks a configured embedding model that differs
	// from any present vector index.
	KindSchemaMismatch ErrorKind = "schema_mismatch"

	// KindStoreIntegrity marks a referential or uniqueness violation.
	KindStoreIntegrity ErrorKind = "store_integrity"

	// KindTransientProviderFailure marks a failure retried internally and
	// escalated only once the retry budget is exhausted.
	KindTransientProviderFailure ErrorKind = "transient_provider_failure"

	// KindFatalProviderFailure marks a non-retryable provider error.
	KindFatalProviderFailure ErrorKind = "fatal_provider_failure"

	// KindInterrupted marks an externally cancelled operation.
	KindInterrupted ErrorKind = "interrupted"
)

// Error is the kind-tagged failure type returned by chunkers, the gateway
// and the repository. Message states what failed; Remedy states the action
// to take, per the user-visible message contract.
type Error struct {
	Kind    ErrorKind
	Message string
	Remedy  string
	Err     error
}

func (e *Error) Error() string {
	if e.Remedy == "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (%s)", e.Message, e.Err, e.Remedy)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Remedy)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a kind-tagged Error.
func NewError(kind ErrorKind, message, remedy string, err error) *Error {
	return &Error{Kind: kind, Message: message, Remedy: remedy, Err: err}
}

// KindOf returns the ErrorKind of err if it (or something it wraps) is a
// *Error, and false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors for conditions checked with errors.Is rather than kind
// inspection.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyPresent indicates a source upsert found an identical
	// (path, digest) pair already stored; no work was done.
	ErrAlreadyPresent = errors.New("source already present")
)
