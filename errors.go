package loom

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures so callers can tell retryable conditions
// from fatal ones.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidConfiguration
	KindTemplateNotFound
	KindMissingTemplateKey
	KindRateLimited
	KindAuthInvalid
	KindServiceUnavailable
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidConfiguration:
		return "invalid configuration"
	case KindTemplateNotFound:
		return "template not found"
	case KindMissingTemplateKey:
		return "missing template key"
	case KindRateLimited:
		return "rate limited"
	case KindAuthInvalid:
		return "invalid credentials"
	case KindServiceUnavailable:
		return "service unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown error"
	}
}

// Retryable reports whether a failure of this kind may succeed on a
// subsequent attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServiceUnavailable, KindTimeout:
		return true
	}
	return false
}

// Error wraps an underlying error with a kind and, for backend failures,
// the index of the chunk whose request failed (-1 when not applicable).
type Error struct {
	Kind       ErrorKind
	ChunkIndex int
	Err        error
}

func (e *Error) Error() string {
	if e.ChunkIndex >= 0 {
		return fmt.Sprintf("%s (chunk %d): %v", e.Kind, e.ChunkIndex, e.Err)
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, ChunkIndex: -1, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindUnknown if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// classifyBackendError maps raw provider errors onto the error taxonomy.
// Provider SDKs surface HTTP status mostly through error text, so this is
// necessarily heuristic.
func classifyBackendError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return newError(KindRateLimited, err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication"):
		return newError(KindAuthInvalid, err)
	case strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "overloaded") || strings.Contains(msg, "unavailable"):
		return newError(KindServiceUnavailable, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return newError(KindTimeout, err)
	}
	return newError(KindUnknown, err)
}
